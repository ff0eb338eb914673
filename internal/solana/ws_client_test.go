package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// confirmServer acks every signatureSubscribe and immediately follows up
// with the notification, the way a node behaves when the signature is
// already at the requested commitment.
func confirmServer(t *testing.T, txErr string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for subID := int64(1); ; subID++ {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req wsRequest
			if err := json.Unmarshal(message, &req); err != nil || req.Method != "signatureSubscribe" {
				continue
			}

			ack := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%d}`, req.ID, subID)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
				return
			}
			notif := fmt.Sprintf(`{"jsonrpc":"2.0","method":"signatureNotification",`+
				`"params":{"subscription":%d,"result":{"value":{"err":%s}}}}`, subID, txErr)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(notif)); err != nil {
				return
			}
		}
	}))
}

func wsEndpoint(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// The notification can arrive in the read immediately after the ack. The
// waiter must already be registered by then or the confirmation is lost
// and the wait runs out its full timeout.
func TestWaitForSignatureImmediateNotification(t *testing.T) {
	srv := confirmServer(t, "null")
	defer srv.Close()

	client, err := NewConfirmClient(context.Background(), wsEndpoint(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.WaitForSignature(ctx, fmt.Sprintf("sig-%d", i))
		cancel()
		if err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
}

func TestWaitForSignatureOnChainFailure(t *testing.T) {
	srv := confirmServer(t, `{"InstructionError":[0,"Custom"]}`)
	defer srv.Close()

	client, err := NewConfirmClient(context.Background(), wsEndpoint(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = client.WaitForSignature(ctx, "sig-failed")
	if !errors.Is(err, ErrTxFailed) {
		t.Fatalf("err = %v, want ErrTxFailed", err)
	}
}

func TestWaitForSignatureAfterClose(t *testing.T) {
	srv := confirmServer(t, "null")
	defer srv.Close()

	client, err := NewConfirmClient(context.Background(), wsEndpoint(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}

	if err := client.WaitForSignature(context.Background(), "sig"); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("err = %v, want ErrConnClosed", err)
	}
}
