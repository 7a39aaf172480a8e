package security

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeySigner_ParsesHexKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))

	for _, input := range []string{hexKey, "0x" + hexKey, "  " + hexKey + "\n"} {
		signer, err := NewKeySigner(input)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())
	}
}

func TestNewKeySigner_RejectsBadKeys(t *testing.T) {
	_, err := NewKeySigner("")
	assert.Error(t, err, "Empty key should be rejected")

	_, err = NewKeySigner("0xnothex")
	assert.Error(t, err, "Non-hex key should be rejected")
}

func TestKeySigner_SignTx(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewKeySignerFromKey(key)

	chainID := big.NewInt(11155111)
	to := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
	})

	signed, err := signer.SignTx(tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), sender, "Recovered sender should be the signer")

	_, err = signer.SignTx(tx, nil)
	assert.Error(t, err, "Signing without chain id should fail")
}
