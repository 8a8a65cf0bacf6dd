package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type ledgerCall struct{ scope, key string }

// fakeLedger records lookups and answers from held.
type fakeLedger struct {
	held  map[ledgerCall]bool
	err   error
	calls []ledgerCall
}

func (f *fakeLedger) lookup(_ context.Context, scope, key string) (bool, error) {
	f.calls = append(f.calls, ledgerCall{scope, key})
	return f.held[ledgerCall{scope, key}], f.err
}

type seenState struct {
	Key    string `json:"key"`
	Replay bool   `json:"replay"`
	Bypass bool   `json:"bypass"`
}

func idemEngine(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity(), IdempotencyValidator(opts, lookup))
	report := func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, seenState{Key: key, Replay: IsReplay(c), Bypass: IsRateBypass(c)})
	}
	r.POST("/requests", report)
	r.GET("/requests", report)
	return r
}

func send(t *testing.T, r http.Handler, method, key, user string) (int, seenState, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "/requests", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var st seenState
	var env map[string]any
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
	} else if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return w.Code, st, env
}

func TestIdempotencyValidator_KeyValidation(t *testing.T) {
	ledger := &fakeLedger{}
	r := idemEngine(IdempotencyOptions{MaxLen: 16}, ledger.lookup)

	cases := []struct {
		name, key string
		code      int
	}{
		{"absent", "", http.StatusOK},
		{"uuid-ish charset", "a1.b2_c3~d4-e:5", http.StatusOK},
		{"too long", strings.Repeat("k", 17), http.StatusBadRequest},
		{"space", "has space", http.StatusBadRequest},
		{"slash", "a/b", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, st, env := send(t, r, http.MethodPost, tc.key, "")
			if code != tc.code {
				t.Fatalf("code = %d, want %d", code, tc.code)
			}
			if code == http.StatusOK && st.Key != tc.key {
				t.Fatalf("stashed key = %q, want %q", st.Key, tc.key)
			}
			if code == http.StatusBadRequest && (env["code"] != "bad_idempotency_key" || env["request_id"] == "") {
				t.Fatalf("envelope = %v", env)
			}
		})
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("anonymous requests must not hit the ledger: %v", ledger.calls)
	}
}

func TestIdempotencyValidator_CustomPattern(t *testing.T) {
	r := idemEngine(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil)
	if code, _, _ := send(t, r, http.MethodPost, "12345", ""); code != http.StatusOK {
		t.Fatalf("digits rejected: %d", code)
	}
	if code, _, _ := send(t, r, http.MethodPost, "abc", ""); code != http.StatusBadRequest {
		t.Fatalf("letters accepted: %d", code)
	}
}

func TestIdempotencyValidator_SafeMethodsIgnored(t *testing.T) {
	ledger := &fakeLedger{}
	r := idemEngine(IdempotencyOptions{}, ledger.lookup)

	code, st, _ := send(t, r, http.MethodGet, "not a valid key!", "4")
	if code != http.StatusOK || st.Key != "" || st.Replay {
		t.Fatalf("GET should ignore the header: code=%d state=%+v", code, st)
	}
	if len(ledger.calls) != 0 {
		t.Fatalf("GET consulted the ledger")
	}
}

func TestIdempotencyValidator_LedgerLookup(t *testing.T) {
	scope := "POST /requests:7"
	ledger := &fakeLedger{held: map[ledgerCall]bool{{scope, "k-held"}: true}}
	r := idemEngine(IdempotencyOptions{}, ledger.lookup)

	_, miss, _ := send(t, r, http.MethodPost, "k-new", "7")
	if miss.Replay || miss.Bypass || miss.Key != "k-new" {
		t.Fatalf("miss state = %+v", miss)
	}
	_, hit, _ := send(t, r, http.MethodPost, "k-held", "7")
	if !hit.Replay || !hit.Bypass {
		t.Fatalf("hit state = %+v", hit)
	}
	// Same key, other caller: different scope.
	_, other, _ := send(t, r, http.MethodPost, "k-held", "8")
	if other.Replay {
		t.Fatalf("key leaked across callers")
	}

	want := []ledgerCall{{scope, "k-new"}, {scope, "k-held"}, {"POST /requests:8", "k-held"}}
	if len(ledger.calls) != len(want) {
		t.Fatalf("calls = %v", ledger.calls)
	}
	for i := range want {
		if ledger.calls[i] != want[i] {
			t.Fatalf("call %d = %v, want %v", i, ledger.calls[i], want[i])
		}
	}
}

func TestIdempotencyValidator_CustomScopeAndLookupError(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("redis down"), held: map[ledgerCall]bool{{"request:create:3", "k"}: true}}
	buf := captureLogs(t)
	r := idemEngine(IdempotencyOptions{
		Scope: func(c *gin.Context) string {
			if uid, ok := UserID(c); ok && uid == 3 {
				return "request:create:3"
			}
			return ""
		},
	}, ledger.lookup)

	code, st, _ := send(t, r, http.MethodPost, "k", "3")
	if code != http.StatusOK || st.Replay {
		t.Fatalf("a failing lookup is a miss: code=%d state=%+v", code, st)
	}
	if got := logLines(t, buf, "idempotency lookup failed"); len(got) != 1 || got[0]["scope"] != "request:create:3" {
		t.Fatalf("lookup failure log = %v", got)
	}

	_, _, _ = send(t, r, http.MethodPost, "k", "4")
	if len(ledger.calls) != 1 {
		t.Fatalf("empty scope should skip the lookup: %v", ledger.calls)
	}
}

func TestContextAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); ok || k != "" {
		t.Fatalf("unset key reported")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key reported")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay flag reported")
	}
	if ScopeByRouteAndUser(c) != "" {
		t.Fatalf("anonymous scope should be empty")
	}
}

func TestIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity())
	r.GET("/who", func(c *gin.Context) {
		id, ok := UserID(c)
		c.JSON(http.StatusOK, gin.H{"id": id, "ok": ok})
	})

	cases := []struct {
		header string
		code   int
		body   string
	}{
		{"", http.StatusOK, `{"id":0,"ok":false}`},
		{" 42 ", http.StatusOK, `{"id":42,"ok":true}`},
		{"abc", http.StatusBadRequest, ""},
		{"0", http.StatusBadRequest, ""},
		{"-3", http.StatusBadRequest, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		if tc.header != "" {
			req.Header.Set(HeaderUserID, tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.code {
			t.Fatalf("header %q: code=%d want %d", tc.header, w.Code, tc.code)
		}
		if tc.body != "" && w.Body.String() != tc.body {
			t.Fatalf("header %q: body=%s", tc.header, w.Body.String())
		}
		if tc.code == http.StatusBadRequest {
			var env map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("json: %v", err)
			}
			if env["error"] != float64(1) || env["code"] != "bad_user_id" {
				t.Fatalf("unexpected envelope %v", env)
			}
		}
	}
}
