package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCID = "QmRN6wdp1S2A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5"

func TestResolveURI(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		id      uint64
		gateway string
		want    string
		wantErr bool
	}{
		{
			name:    "ipfs with placeholder",
			raw:     "ipfs://" + validCID + "/{id}.json",
			id:      12,
			gateway: "https://gw.example/ipfs",
			want:    "https://gw.example/ipfs/" + validCID + "/12.json",
		},
		{
			name:    "ipfs with ipfs path prefix",
			raw:     "ipfs://ipfs/" + validCID,
			id:      1,
			gateway: "https://gw.example/ipfs/",
			want:    "https://gw.example/ipfs/" + validCID,
		},
		{
			name: "http passthrough",
			raw:  "https://meta.example/{id}",
			id:   100,
			want: "https://meta.example/100",
		},
		{
			name:    "cidv1 not checked",
			raw:     "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/{id}",
			id:      3,
			gateway: DefaultGateway,
			want:    DefaultGateway + "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi/3",
		},
		{name: "empty", raw: " ", wantErr: true},
		{name: "unknown scheme", raw: "ar://abc", wantErr: true},
		{name: "bad base58", raw: "ipfs://QmRN6wdp1S0A5EtjW9A3M1vKSBuQQGcgvuhoMUoEz4iiT5", gateway: DefaultGateway, wantErr: true},
		{name: "wrong multihash", raw: "ipfs://QmidMSYazydvsmEdvwETrig6oUAe54yT1rqcX5Tfy1Pvr4", gateway: DefaultGateway, wantErr: true},
		{name: "short cid", raw: "ipfs://Qmabc", gateway: DefaultGateway, wantErr: true},
		{name: "no gateway", raw: "ipfs://" + validCID, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURI(tt.raw, tt.id, tt.gateway)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{"name":"Clase 1","description":"Blockchain","image":"ipfs://img"}`))
	require.NoError(t, err)
	assert.Equal(t, Document{Name: "Clase 1", Description: "Blockchain", Image: "ipfs://img"}, doc)

	doc, err = Parse([]byte(`{"name":"Clase 2","image":42}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Equal(t, "Clase 2", doc.Name)
	assert.Empty(t, doc.Image)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/7.json"):
			_, _ = w.Write([]byte(`{"name":"Clase 7","description":"d","image":"i"}`))
		case strings.HasSuffix(r.URL.Path, "/8.json"):
			_, _ = w.Write([]byte(`{"name":"Clase 8"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(Options{Gateway: srv.URL + "/ipfs/", Client: srv.Client()})
	raw := "ipfs://" + validCID + "/{id}.json"

	doc, err := f.Fetch(context.Background(), raw, 7)
	require.NoError(t, err)
	assert.Equal(t, "Clase 7", doc.Name)

	doc, err = f.Fetch(context.Background(), raw, 8)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.Equal(t, "Clase 8", doc.Name)

	_, err = f.Fetch(context.Background(), raw, 9)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher(Options{})
	assert.Equal(t, DefaultGateway, f.gateway)
	assert.Equal(t, DefaultTimeout, f.client.Timeout)
	assert.NotNil(t, f.client.Transport)
}
