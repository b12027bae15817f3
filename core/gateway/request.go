package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Request describes a call to the API. URL is either a path relative to the base URL or an
// absolute URL. Body is sent as is if it is a []byte or json.RawMessage, anything else is
// encoded as JSON.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   interface{}
	// NoQueue opts the request out of the offline queue
	NoQueue bool
	// NoCache opts a read request out of the response cache
	NoCache bool
	// NoRefresh rejects a 401 right away instead of refreshing the credentials
	NoRefresh bool
}

// Response is a successful response from the API, or a cached payload served while the
// network is unreachable
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// FromCache is true if the payload was served from the response cache
	FromCache bool
	// StoredAt is the time the cached payload was stored, zero for network responses
	StoredAt time.Time
	Latency  time.Duration
}

// Decode unmarshals the JSON body of the response into v
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// call is the gateway's working copy of a Request through dispatch, queueing and retry
type call struct {
	req    *Request
	method string
	body   []byte
	// retried is set once the request was replayed after a credential refresh
	retried bool
	// token is the access credential of the last attempt
	token    string
	issuedAt time.Time
}

func newCall(req *Request) (*call, error) {
	c := &call{req: req, method: strings.ToUpper(req.Method)}
	if c.method == "" {
		c.method = http.MethodGet
	}
	switch body := req.Body.(type) {
	case nil:
	case []byte:
		c.body = body
	case json.RawMessage:
		c.body = body
	case string:
		c.body = []byte(body)
	default:
		b, err := json.Marshal(body)
		if err != nil {
			e := newError(KindValidation, 0, err)
			e.Message = "The request body cannot be encoded."
			return nil, e
		}
		c.body = b
	}
	return c, nil
}

// readType is true for requests which only read data. Only those are cached.
func (c *call) readType() bool {
	switch c.method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// cacheable is true if the call may write to and read from the response cache
func (c *call) cacheable() bool {
	return c.readType() && !c.req.NoCache
}
