package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// FakeResponse describes the behaviour of a single fake ranker call.
type FakeResponse struct {
	Delay  time.Duration
	Status int
	Body   string
}

// FakeRanker provides a controllable httptest server used to simulate a
// downstream ranker with configurable latency and status codes.
type FakeRanker struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses []FakeResponse
	index     int
	calls     int
	bodies    [][]byte
}

// NewFakeRanker constructs a FakeRanker with the provided response plan.
// When the number of executed calls exceeds the length of responses, the
// last response is reused.
func NewFakeRanker(responses ...FakeResponse) *FakeRanker {
	if len(responses) == 0 {
		responses = []FakeResponse{{Status: http.StatusOK}}
	}

	fr := &FakeRanker{
		responses: responses,
	}

	fr.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		fr.mu.Lock()
		fr.bodies = append(fr.bodies, body)
		fr.mu.Unlock()

		resp := fr.nextResponse()
		if resp.Delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(resp.Delay):
			}
		}

		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}

		w.WriteHeader(status)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	}))

	return fr
}

func (f *FakeRanker) nextResponse() FakeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.index >= len(f.responses) {
		return f.responses[len(f.responses)-1]
	}

	resp := f.responses[f.index]
	f.index++
	return resp
}

// URL returns the base URL for the fake ranker.
func (f *FakeRanker) URL() string {
	if f == nil || f.server == nil {
		return ""
	}
	return f.server.URL
}

// Calls returns the number of requests handled so far.
func (f *FakeRanker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Bodies returns the request bodies received so far.
func (f *FakeRanker) Bodies() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.bodies))
	copy(out, f.bodies)
	return out
}

// SetResponses overrides the remaining response plan, resetting the cursor.
func (f *FakeRanker) SetResponses(responses ...FakeResponse) {
	if f == nil {
		return
	}
	if len(responses) == 0 {
		responses = []FakeResponse{{Status: http.StatusOK}}
	}
	f.mu.Lock()
	f.responses = responses
	f.index = 0
	f.calls = 0
	f.bodies = nil
	f.mu.Unlock()
}

// Close terminates the hosted httptest server.
func (f *FakeRanker) Close() {
	if f == nil || f.server == nil {
		return
	}
	f.server.Close()
}
