package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rezonia/sifen-client/internal/model"
	"github.com/rezonia/sifen-client/internal/transport"
)

const submitAck = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">
 <env:Body>
  <ns2:rResEnviLoteDe xmlns:ns2="http://ekuatia.set.gov.py/sifen/xsd">
   <ns2:dFecProc>2026-03-14T10:31:00</ns2:dFecProc>
   <ns2:dCodRes>0300</ns2:dCodRes>
   <ns2:dMsgRes>Lote recibido con éxito</ns2:dMsgRes>
   <ns2:dProtConsLote>123456789</ns2:dProtConsLote>
   <ns2:dTpoProces>2</ns2:dTpoProces>
  </ns2:rResEnviLoteDe>
 </env:Body>
</env:Envelope>`

const queryResult = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
 <soap:Body>
  <rResEnviConsLoteDe xmlns="http://ekuatia.set.gov.py/sifen/xsd">
   <dCodResLot>0362</dCodResLot>
   <dMsgResLot>Procesamiento de lote concluido</dMsgResLot>
   <gResProcLote>
    <id>01800123454001001000003320260314112345678906</id>
    <dEstRes>Aprobado</dEstRes>
    <gResProc>
     <dCodRes>0260</dCodRes>
     <dMsgRes>Autorizado el DE</dMsgRes>
    </gResProc>
   </gResProcLote>
  </rResEnviConsLoteDe>
 </soap:Body>
</soap:Envelope>`

// newTestClient points every operation at the test server and records
// retry delays instead of sleeping them.
func newTestClient(t *testing.T, url string, delays *[]time.Duration) *transport.Client {
	t.Helper()
	return transport.NewClient(transport.Config{
		Environment: model.EnvTest,
		Logger:      zaptest.NewLogger(t),
		EndpointOverride: map[string]string{
			transport.OpSubmitBatch.Name: url,
			transport.OpQueryBatch.Name:  url,
		},
	}, transport.WithSleeper(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}))
}

func TestSend_ParsesSubmitAck(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		assert.Empty(t, r.Header.Get("SOAPAction"), "no separate SOAPAction header")
		w.Write([]byte(submitAck))
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	resp, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.NoError(t, err)

	assert.Equal(t, `application/soap+xml; charset=utf-8; action="https://sifen.set.gov.py/de/ws/async/recibe-lote"`, gotContentType)
	assert.Equal(t, "0300", resp.Code)
	assert.Equal(t, "Lote recibido con éxito", resp.Message)
	assert.Equal(t, "123456789", resp.ProtocolNumber)
	assert.Equal(t, "2", resp.ProcessingType)
	assert.True(t, resp.Accepted())
	assert.Empty(t, delays)
}

func TestSend_BusinessRejectionIsNotAnError(t *testing.T) {
	rejection := `<Envelope><Body><rResEnviLoteDe>
		<dCodRes>0301</dCodRes>
		<dMsgRes>Lote rechazado</dMsgRes>
		<dProtConsLote>0</dProtConsLote>
	</rResEnviLoteDe></Body></Envelope>`

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte(rejection))
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	resp, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.NoError(t, err, "a rejection travels back as data, not as an error")

	assert.Equal(t, "0301", resp.Code)
	assert.False(t, resp.Accepted())
	assert.Equal(t, int32(1), attempts.Load(), "application codes are never auto-retried")
	assert.Empty(t, delays)
}

func TestSend_ParsesPerDocumentResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(queryResult))
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	resp, err := client.Send(context.Background(), transport.OpQueryBatch, []byte("<env/>"))
	require.NoError(t, err)

	assert.Equal(t, "0362", resp.Code)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "01800123454001001000003320260314112345678906", resp.Documents[0].CDC)
	assert.Equal(t, "Aprobado", resp.Documents[0].Status)
	assert.Equal(t, "0260", resp.Documents[0].Code)
	assert.Equal(t, "Autorizado el DE", resp.Documents[0].Message)
}

func TestSend_RetriesConnectionResets(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			// Abruptly close the connection so the client sees a reset.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(submitAck))
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	resp, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.NoError(t, err, "two resets then success must succeed overall")

	assert.Equal(t, "0300", resp.Code)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}, delays)
}

func TestSend_ConnectionRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	_, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindTransport, pe.Kind)
	assert.True(t, model.IsRetryable(err), "spent schedule stays eligible for a later sweep")
	assert.Len(t, delays, 2)
}

func TestSend_ServerErrorsRetryBounded(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(submitAck))
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	resp, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.NoError(t, err)
	assert.Equal(t, "0300", resp.Code)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, delays)
}

func TestSend_ServerErrorsExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	_, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	var pe *model.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindTransport, pe.Kind)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, int32(3), attempts.Load(), "three attempts, then surface the failure")
}

func TestSend_ClientErrorIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	var delays []time.Duration
	client := newTestClient(t, srv.URL, &delays)

	_, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.Error(t, err)
	assert.False(t, model.IsRetryable(err))
	assert.Equal(t, int32(1), attempts.Load(), "4xx never retries")
	assert.Empty(t, delays)
}

func TestSend_NoEndpointConfigured(t *testing.T) {
	client := transport.NewClient(transport.Config{
		Environment: model.Environment("staging"),
		Logger:      zaptest.NewLogger(t),
	})

	_, err := client.Send(context.Background(), transport.OpSubmitBatch, []byte("<env/>"))
	require.Error(t, err)
}
