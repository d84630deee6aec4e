package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (b brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	w := brokenWriter{httptest.NewRecorder()}

	writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, w.Code)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Contains(t, entry.Message, "client went away")
}

func TestWriteJSONSilentOnSuccess(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	w := httptest.NewRecorder()

	writeJSON(w, logger, http.StatusCreated, ErrorBody{Error: CodeBadRequest, Message: "x"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"error":"BadRequest","message":"x"}`, w.Body.String())
	assert.Empty(t, hook.AllEntries())
}
