package sterling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandByDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ir/expand", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc123", body["digest"])

		json.NewEncoder(w).Encode(ExpandResult{
			Status:          StatusOK,
			ExpansionDigest: "exp-1",
			Steps:           []ExpandedStep{{Leaf: "gather_nearby"}, {Leaf: "task_type_craft"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.ExpandByDigest(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Len(t, res.Steps, 2)
	assert.Equal(t, "exp-1", res.ExpansionDigest)
}

func TestExpandByDigest_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ExpandResult{Status: StatusBlocked, Reason: BlockedDigestUnknown})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).ExpandByDigest(context.Background(), "missing")
	require.NoError(t, err, "a blocked expansion is a result, not a transport error")
	assert.Equal(t, StatusBlocked, res.Status)
	assert.Equal(t, BlockedDigestUnknown, res.Reason)
}

func TestResolveIntentSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ir/resolve-intents", r.URL.Path)
		var req ResolveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "abc123", req.Digest)

		json.NewEncoder(w).Encode(ResolveResult{
			Status: StatusOK,
			Replacements: []IntentReplacement{{
				IntentStepIndex: 0,
				Steps:           []ExpandedStep{{Leaf: "craft_recipe", Args: map[string]any{"recipe": "sticks"}}},
			}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.ResolveIntentSteps(context.Background(), ResolveRequest{
		Digest: "abc123",
		Steps:  []ExpandedStep{{Leaf: "task_type_craft"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Replacements, 1)
	assert.Equal(t, 0, res.Replacements[0].IntentStepIndex)
	assert.Equal(t, "craft_recipe", res.Replacements[0].Steps[0].Leaf)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient("", time.Second)
	assert.False(t, c.Configured())

	_, err := c.ExpandByDigest(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.ResolveIntentSteps(context.Background(), ResolveRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClient_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).ExpandByDigest(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
