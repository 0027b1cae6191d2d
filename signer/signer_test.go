package signer

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "0x8f49e4492f97ca6334e15117fc6c4c06f4652cac7fb27ed4ecc5ef9ea6ad5820"
	testAddress = "0x36e4418dafb9d1e5fff7408f5a57981e240c8f8e"
)

func TestDefaultProvider(t *testing.T) {
	p, err := NewDefaultProvider(testKey)
	require.NoError(t, err)
	assert.Equal(t, testAddress, p.GetAddress())

	hash := crypto.Keccak256([]byte("attestation"))
	sig, err := p.Sign(hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), crypto.PubkeyToAddress(*pub))
}

func TestNewDefaultProviderInvalidKey(t *testing.T) {
	_, err := NewDefaultProvider("0x1234")
	assert.Error(t, err)
}

func TestTxSignerFn(t *testing.T) {
	p, err := NewDefaultProvider(testKey)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	to := common.HexToAddress("0x59bE1932048F76f9B0e8e5f6AcCf5Fd8D53136DD")
	tx := types.NewTx(&types.LegacyTx{Nonce: 3, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	signFn := TxSignerFn(chainID, p)
	signed, err := signFn(common.HexToAddress(testAddress), tx)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), sender)

	_, err = signFn(to, tx)
	assert.Error(t, err)
}

func TestRemoteSigner(t *testing.T) {
	local, err := NewDefaultProvider(testKey)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		var body struct {
			PayloadHex string `json:"payload_hex"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		payload, err := hex.DecodeString(body.PayloadHex)
		require.NoError(t, err)

		sig, err := local.Sign(payload)
		require.NoError(t, err)
		sig[64] += 27
		_ = json.NewEncoder(w).Encode(map[string]string{"signature_hex": "0x" + hex.EncodeToString(sig)})
	}))
	defer srv.Close()

	remote, err := NewRemoteSigner(srv.URL, "secret", strings.ToUpper(testAddress[2:]))
	require.NoError(t, err)
	assert.Equal(t, testAddress, remote.GetAddress())

	hash := crypto.Keccak256([]byte("approval"))
	sig, err := remote.Sign(hash)
	require.NoError(t, err)

	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), crypto.PubkeyToAddress(*pub))

	_, err = remote.Sign([]byte("short"))
	assert.Error(t, err)
}

func TestRemoteSignerHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	remote, err := NewRemoteSigner(srv.URL, "", testAddress)
	require.NoError(t, err)

	_, err = remote.Sign(crypto.Keccak256([]byte("x")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
