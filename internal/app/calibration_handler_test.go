package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialSession(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads responses until one of type want arrives, failing on an
// error response.
func readUntil(t *testing.T, conn *websocket.Conn, want string) (WSResponse, []WSResponse) {
	t.Helper()
	var seen []WSResponse
	conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
	for {
		var resp WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if resp.Type == want {
			return resp, seen
		}
		if resp.Type == "error" {
			t.Fatalf("waiting for %q: error %q", want, resp.Message)
		}
		seen = append(seen, resp)
	}
}

func TestCalibrationSession(t *testing.T) {
	dir := t.TempDir()
	latest := &latestResult{}
	published := make(chan *CalibrationResult, 4)
	srv := httptest.NewServer(newWebMux(simTestConfig(), dir, t.TempDir(), latest, func(res *CalibrationResult) {
		published <- res
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/calibration")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("before any calibration: status %d", resp.StatusCode)
	}

	conn := dialSession(t, srv)

	if err := conn.WriteJSON(WSMessage{Action: "init", IMU: "../right"}); err != nil {
		t.Fatal(err)
	}
	if r, _ := readUntil(t, conn, "phase"); r.Phase != "ready" {
		t.Errorf("init: phase %q", r.Phase)
	}

	if err := conn.WriteJSON(WSMessage{Action: "simulate"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := readUntil(t, conn, "recorded")
	if len(rec.Files) != 2 || rec.Files[0] != "right_acc.txt" || rec.Files[1] != "right_gyro.txt" {
		t.Errorf("recorded files %v", rec.Files)
	}

	if err := conn.WriteJSON(WSMessage{Action: "run"}); err != nil {
		t.Fatal(err)
	}
	done, seen := readUntil(t, conn, "complete")
	if done.Results == nil || done.Results.IMU != "right" || !strings.HasPrefix(done.File, "right_") {
		t.Fatalf("complete: %+v", done)
	}
	var events int
	for _, r := range seen {
		if r.Type == "event" {
			if r.Event == nil || r.Event.Stage != r.Phase {
				t.Errorf("event response %+v", r)
			}
			events++
		}
	}
	if events == 0 {
		t.Error("no solver events streamed")
	}

	if err := conn.WriteJSON(WSMessage{Action: "status"}); err != nil {
		t.Fatal(err)
	}
	if st, _ := readUntil(t, conn, "status"); st.Phase != "complete" || st.Results == nil {
		t.Errorf("status: %+v", st)
	}

	select {
	case res := <-published:
		if res.Acc != done.Results.Acc {
			t.Errorf("published acc model %v", res.Acc)
		}
	default:
		t.Error("result not published")
	}

	resp, err = http.Get(srv.URL + "/api/calibration")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var api CalibrationResult
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		t.Fatal(err)
	}
	if api.IMU != "right" || api.Gyro != done.Results.Gyro {
		t.Errorf("api result: %+v", api)
	}
}

func TestCalibrationSessionErrors(t *testing.T) {
	srv := httptest.NewServer(newWebMux(simTestConfig(), t.TempDir(), t.TempDir(), &latestResult{}, nil))
	defer srv.Close()
	conn := dialSession(t, srv)

	for _, msg := range []WSMessage{
		{Action: "jump"},
		{Action: "run", AccFile: "missing_acc.txt", GyroFile: "missing_gyro.txt"},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatal(err)
		}
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		for {
			var resp WSResponse
			if err := conn.ReadJSON(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Type == "error" {
				if resp.Message == "" {
					t.Errorf("%s: empty error message", msg.Action)
				}
				break
			}
		}
	}

	if err := conn.WriteJSON(WSMessage{Action: "cancel"}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after cancel")
	}
}
