package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/discovery"
)

// upperLogic 以 "fail" 为任务时失败，否则回显任务
var upperLogic = agent.LogicFunc(func(_ context.Context, task string, _ map[string]any) (any, error) {
	if task == "fail" {
		return nil, errors.New("requested failure")
	}
	return task + "!", nil
})

func newRegistryWith(t *testing.T, names ...string) *discovery.Registry {
	t.Helper()
	reg := discovery.NewRegistry(discovery.DefaultRegistryConfig(), zap.NewNop())
	for _, name := range names {
		a, err := agent.New(agent.Identity{Name: name, FailureThreshold: 2}, upperLogic, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func serve(mux *http.ServeMux, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

// decodeData 解出 Response.Data 到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if dst != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, dst))
	}
	return raw.Response
}
