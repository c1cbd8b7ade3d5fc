package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandler_LabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := InstrumentHandler(mux)

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "GET /products/{name}", "418"))
	for _, name := range []string{"GAUZE", "TAPE"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/"+name, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "GET /products/{name}", "418"))
	assert.Equal(t, 2.0, after-before)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(cycleRejections)
	RecordCycleRejected()
	assert.Equal(t, 1.0, testutil.ToFloat64(cycleRejections)-before)

	beforeT := testutil.ToFloat64(invoiceTransitions.WithLabelValues("void", "false"))
	RecordTransition("void", errors.New("lost race"))
	assert.Equal(t, 1.0, testutil.ToFloat64(invoiceTransitions.WithLabelValues("void", "false"))-beforeT)
}

func TestHandler_Exposes(t *testing.T) {
	RecordEdgeChange("define", 1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_composition_edge_changes_total"))
}
