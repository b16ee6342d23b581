package transport

import "github.com/rezonia/sifen-client/internal/model"

// Operation describes one SIFEN web-service operation: the request
// element that goes inside the SOAP body, the fully-qualified action
// URI carried in the Content-Type parameter (there is no SOAPAction
// header), and the per-environment endpoint.
type Operation struct {
	// Name is the request element's local name inside the SOAP body.
	Name string
	// Wrapper optionally nests Name inside another element. Empty
	// means the request element sits bare in the body.
	Wrapper string
	// Action is the fully-qualified operation URI for Content-Type.
	Action string

	endpoints map[model.Environment]string
}

// Endpoint returns the HTTPS URL of the operation in the environment
func (op Operation) Endpoint(env model.Environment) string {
	return op.endpoints[env]
}

// The two in-scope async batch operations, plus the individual document
// lookup that requires_individual_lookup batches fall back to.
var (
	OpSubmitBatch = Operation{
		Name:   "rEnvioLote",
		Action: "https://sifen.set.gov.py/de/ws/async/recibe-lote",
		endpoints: map[model.Environment]string{
			model.EnvProd: "https://sifen.set.gov.py/de/ws/async/recibe-lote.wsdl",
			model.EnvTest: "https://sifen-test.set.gov.py/de/ws/async/recibe-lote.wsdl",
		},
	}

	OpQueryBatch = Operation{
		Name:   "rEnviConsLoteDe",
		Action: "https://sifen.set.gov.py/de/ws/consultas/consulta-lote",
		endpoints: map[model.Environment]string{
			model.EnvProd: "https://sifen.set.gov.py/de/ws/consultas/consulta-lote.wsdl",
			model.EnvTest: "https://sifen-test.set.gov.py/de/ws/consultas/consulta-lote.wsdl",
		},
	}

	OpQueryDocument = Operation{
		Name:   "rEnviConsDeRequest",
		Action: "https://sifen.set.gov.py/de/ws/consultas/consulta",
		endpoints: map[model.Environment]string{
			model.EnvProd: "https://sifen.set.gov.py/de/ws/consultas/consulta.wsdl",
			model.EnvTest: "https://sifen-test.set.gov.py/de/ws/consultas/consulta.wsdl",
		},
	}
)
