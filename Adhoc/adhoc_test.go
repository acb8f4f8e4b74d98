package Adhoc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	iface "TruckGate/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regConfig(t *testing.T, srv *httptest.Server) RegServerConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return RegServerConfig{Enabled: true, Host: host, Port: p, Interval: 10 * time.Millisecond}
}

func TestHeartbeat_Beat(t *testing.T) {
	var got RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: got.Id, Success: true})
	}))
	defer srv.Close()

	hb := NewHeartbeat(regConfig(t, srv), Node{
		IP:          "10.0.0.7",
		HTTPPort:    8080,
		RPCPort:     50051,
		Transport:   "serial",
		LastCommand: func() iface.GateCommand { return iface.CommandOpen },
	}, nil)

	require.NoError(t, hb.Beat(context.Background()))
	assert.Equal(t, hb.ID(), got.Id)
	assert.Equal(t, "10.0.0.7", got.IP)
	assert.Equal(t, 50051, got.RPCPort)
	assert.Equal(t, "OPEN", got.LastCommand)
	assert.NotZero(t, got.TimeStamp)
}

func TestHeartbeat_Errors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"rejected", http.StatusOK, `{"success":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			hb := NewHeartbeat(regConfig(t, srv), Node{}, nil)
			assert.Error(t, hb.Beat(context.Background()))
		})
	}

	hb := NewHeartbeat(RegServerConfig{Host: "127.0.0.1", Port: 1}, Node{}, nil)
	assert.Error(t, hb.Beat(context.Background()))
}

func TestHeartbeat_RunStopsOnCancel(t *testing.T) {
	var beats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beats.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	hb := NewHeartbeat(regConfig(t, srv), Node{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go hb.Run(ctx, &wg)

	assert.Eventually(t, func() bool { return beats.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
}
