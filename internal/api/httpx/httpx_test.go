package httpx_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkrivacevic11921rn/settlement-core/internal/api/httpx"
)

func TestWriteJSONSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteJSON(rec, 201, map[string]string{"message": "ok"})

	require.Equal(t, 201, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["message"])
}

func TestWriteErrorBodyShape(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteError(rec, 400, "insufficient_funds", "insufficient funds")

	require.Equal(t, 400, rec.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "insufficient_funds", body.Code)
	require.Equal(t, "insufficient funds", body.Error)
}
