package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/freeeve/endgametrainer/internal/drills"
	"github.com/freeeve/endgametrainer/internal/eval"
	"github.com/freeeve/endgametrainer/internal/tablebase"
	"github.com/freeeve/endgametrainer/internal/trainer"
)

// KRK: White Ke6, Ra1 vs Black Ke8, white to move.
const krkFEN = "4k3/8/4K3/8/8/8/8/R7 w - - 0 1"

func intp(v int) *int { return &v }

// stubOracle serves canned results keyed by the board field of the FEN.
type stubOracle struct {
	byBoard map[string]*tablebase.Result
}

func (s *stubOracle) Evaluate(ctx context.Context, fenStr string) (*tablebase.Result, error) {
	res, ok := s.byBoard[strings.Fields(fenStr)[0]]
	if !ok {
		return nil, tablebase.ErrInvalidQuery
	}
	return res, nil
}

func (s *stubOracle) Peek(fenStr string) (*tablebase.Result, bool) {
	res, ok := s.byBoard[strings.Fields(fenStr)[0]]
	return res, ok
}

func (s *stubOracle) Stats() tablebase.EvaluatorStats {
	return tablebase.EvaluatorStats{}
}

func newOracle() *stubOracle {
	return &stubOracle{byBoard: map[string]*tablebase.Result{
		"4k3/8/4K3/8/8/8/8/R7": {
			WDL: 2, Category: tablebase.CategoryWin, DTM: intp(10),
			Moves: []tablebase.MoveEval{
				{SAN: "Rb1", UCI: "a1b1", WDL: -2, Category: tablebase.CategoryLoss, DTM: intp(-9)},
			},
		},
		"4k3/8/4K3/8/8/8/8/1R6": {
			WDL: -2, Category: tablebase.CategoryLoss, DTM: intp(-9),
			Moves: []tablebase.MoveEval{
				{SAN: "Kd8", UCI: "e8d8", WDL: 2, Category: tablebase.CategoryWin, DTM: intp(8)},
			},
		},
		"3k4/8/4K3/8/8/8/8/1R6": {
			WDL: 2, Category: tablebase.CategoryWin, DTM: intp(8),
		},
	}}
}

func newTestServer(t *testing.T, replyDelay time.Duration) (*httptest.Server, *stubOracle) {
	t.Helper()
	oracle := newOracle()

	registry := trainer.NewRegistry(trainer.Config{
		Evaluator:  oracle,
		Thresholds: eval.DefaultThresholds(),
		ReplyDelay: replyDelay,
		Logger:     zerolog.Nop(),
	})

	library := drills.NewLibrary(zerolog.Nop())

	srv := httptest.NewServer(NewRouter(zerolog.Nop(), registry, oracle, library))
	t.Cleanup(srv.Close)
	return srv, oracle
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/v1/session", createSessionRequest{FEN: krkFEN, Side: "w"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var sr sessionResponse
	decodeBody(t, resp, &sr)
	if sr.ID == "" {
		t.Fatal("empty session id")
	}
	return sr.ID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	id := createSession(t, srv)

	resp, err := http.Get(srv.URL + "/v1/session/" + id)
	if err != nil {
		t.Fatal(err)
	}
	var snap trainer.Snapshot
	decodeBody(t, resp, &snap)
	if snap.FEN != krkFEN {
		t.Errorf("fen = %q, want %q", snap.FEN, krkFEN)
	}
	if snap.State != "idle" {
		t.Errorf("state = %q, want idle", snap.State)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/session/"+id, nil)
	dresp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	dresp.Body.Close()
	if dresp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", dresp.StatusCode)
	}

	gresp, err := http.Get(srv.URL + "/v1/session/" + id)
	if err != nil {
		t.Fatal(err)
	}
	gresp.Body.Close()
	if gresp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", gresp.StatusCode)
	}
}

func TestCreateSessionBadInput(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)

	resp := postJSON(t, srv.URL+"/v1/session", createSessionRequest{FEN: "garbage", Side: "w"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad fen status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/session", createSessionRequest{FEN: krkFEN, Side: "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad side status = %d, want 400", resp.StatusCode)
	}

	// Empty body and no drills loaded: nothing to deal.
	resp = postJSON(t, srv.URL+"/v1/session", createSessionRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("no drills status = %d, want 404", resp.StatusCode)
	}
}

func TestMove(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	id := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "a1b1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status = %d, want 200", resp.StatusCode)
	}
	var out trainer.MoveOutcome
	decodeBody(t, resp, &out)
	if out.Kind != trainer.OutcomeAccepted {
		t.Errorf("kind = %s, want accepted", out.Kind)
	}
	if out.Quality == nil || out.Quality.Tier != eval.TierOptimal {
		t.Errorf("quality = %+v, want optimal", out.Quality)
	}
}

func TestMoveIllegal(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	id := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "h7h8"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMoveOutOfTurnConflicts(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	id := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "a1b1"})
	resp.Body.Close()

	// Reply still pending: a second move conflicts.
	resp = postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "b1b8"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestEvalEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)

	resp, err := http.Get(srv.URL + "/v1/eval?fen=" + strings.ReplaceAll(krkFEN, " ", "%20"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var f eval.Formatted
	decodeBody(t, resp, &f)
	if f.Category != tablebase.CategoryWin {
		t.Errorf("category = %s, want win", f.Category)
	}
	if len(f.TopMoves) != 1 || f.TopMoves[0].UCI != "a1b1" {
		t.Errorf("top moves = %+v, want a1b1", f.TopMoves)
	}

	resp, err = http.Get(srv.URL + "/v1/eval")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing fen status = %d, want 400", resp.StatusCode)
	}

	// Uncached positions are not fetched on demand.
	resp, err = http.Get(srv.URL + "/v1/eval?fen=" + strings.ReplaceAll("8/8/8/8/8/8/k7/K7 w - - 0 1", " ", "%20"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("uncached position status = %d, want 404", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	createSession(t, srv)

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats statsResponse
	decodeBody(t, resp, &stats)
	if stats.Sessions != 1 {
		t.Errorf("sessions = %d, want 1", stats.Sessions)
	}
}

func TestEventFeedStreamsReply(t *testing.T) {
	srv, _ := newTestServer(t, 5*time.Millisecond)
	id := createSession(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/session/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "a1b1"})
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev trainer.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != trainer.EventReply {
		t.Errorf("event type = %s, want reply", ev.Type)
	}
	if ev.UCI != "e8d8" {
		t.Errorf("reply uci = %q, want e8d8", ev.UCI)
	}
}

func TestBlunderFlow(t *testing.T) {
	srv, oracle := newTestServer(t, time.Hour)
	// Rb1 now throws the win away.
	oracle.byBoard["4k3/8/4K3/8/8/8/8/1R6"] = &tablebase.Result{
		WDL: 0, Category: tablebase.CategoryDraw,
	}
	id := createSession(t, srv)

	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/move", moveRequest{Move: "a1b1"})
	var out trainer.MoveOutcome
	decodeBody(t, resp, &out)
	if out.Kind != trainer.OutcomeBlunderFlagged {
		t.Fatalf("kind = %s, want blunder_flagged", out.Kind)
	}

	resp = postJSON(t, srv.URL+"/v1/session/"+id+"/blunder", blunderRequest{Action: "retry"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blunder status = %d, want 200", resp.StatusCode)
	}
	var snap trainer.Snapshot
	decodeBody(t, resp, &snap)
	if snap.FEN != krkFEN {
		t.Errorf("fen = %q, want position restored", snap.FEN)
	}

	resp = postJSON(t, srv.URL+"/v1/session/"+id+"/blunder", blunderRequest{Action: "nonsense"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action status = %d, want 400", resp.StatusCode)
	}
}

func TestTakeBackAndReset(t *testing.T) {
	srv, _ := newTestServer(t, time.Hour)
	id := createSession(t, srv)

	// Nothing committed yet.
	resp := postJSON(t, srv.URL+"/v1/session/"+id+"/takeback", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("takeback status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/v1/session/"+id+"/reset", resetRequest{FEN: krkFEN, Side: "b"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}
	var snap trainer.Snapshot
	decodeBody(t, resp, &snap)
	if snap.PlayerSide != "b" {
		t.Errorf("player side = %q, want b", snap.PlayerSide)
	}
}
