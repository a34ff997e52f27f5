package explorer

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

func parseBitcoinTx(txStr string) (string, string, error) {
	var tx wire.MsgTx

	if err := tx.Deserialize(hex.NewDecoder(strings.NewReader(txStr))); err != nil {
		ptx, err := psbt.NewFromRawBytes(strings.NewReader(txStr), true)
		if err != nil {
			return "", "", err
		}

		txFromPartial, err := psbt.Extract(ptx)
		if err != nil {
			return "", "", err
		}

		tx = *txFromPartial
	}

	var txBuf bytes.Buffer

	if err := tx.Serialize(&txBuf); err != nil {
		return "", "", err
	}

	txhex := hex.EncodeToString(txBuf.Bytes())
	txid := tx.TxHash().String()

	return txhex, txid, nil
}

func deriveWsURL(baseUrl string) (string, error) {
	parsedUrl, err := url.Parse(baseUrl)
	if err != nil {
		return "", err
	}

	switch parsedUrl.Scheme {
	case "https", "wss":
		parsedUrl.Scheme = "wss"
	case "http", "ws":
		parsedUrl.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", parsedUrl.Scheme)
	}
	if len(parsedUrl.Host) <= 0 {
		return "", fmt.Errorf("missing host")
	}

	wsUrl := strings.TrimRight(parsedUrl.String(), "/")
	return fmt.Sprintf("%s/v1/ws", wsUrl), nil
}

func isClosedOrTimeout(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
