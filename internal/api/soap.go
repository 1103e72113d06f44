package api

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

const (
	soapEnvNS   = "http://schemas.xmlsoap.org/soap/envelope/"
	connectorNS = "http://developer.intuit.com/"
)

// soapCall holds the parameters of any connector call; only the ones the
// method defines are populated.
type soapCall struct {
	XMLName  xml.Name
	UserName string `xml:"strUserName"`
	Password string `xml:"strPassword"`
	Ticket   string `xml:"ticket"`
	Response string `xml:"response"`
	HResult  string `xml:"hresult"`
	Message  string `xml:"message"`
	Version  string `xml:"strVersion"`
}

type requestEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Call soapCall `xml:",any"`
	} `xml:"Body"`
}

func decodeCall(r io.Reader) (soapCall, error) {
	var env requestEnvelope
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }
	if err := dec.Decode(&env); err != nil {
		return soapCall{}, fmt.Errorf("decode soap envelope: %w", err)
	}
	if env.Body.Call.XMLName.Local == "" {
		return soapCall{}, fmt.Errorf("soap body has no call")
	}
	return env.Body.Call, nil
}

type responseEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Content any
	} `xml:"soap:Body"`
}

type methodResponse struct {
	XMLName xml.Name
	NS      string `xml:"xmlns,attr"`
	Result  resultValue
}

type resultValue struct {
	XMLName xml.Name
	Text    string   `xml:",chardata"`
	Strings []string `xml:"string"`
}

type soapFault struct {
	XMLName xml.Name `xml:"soap:Fault"`
	Code    string   `xml:"faultcode"`
	Message string   `xml:"faultstring"`
}

func encodeEnvelope(content any) ([]byte, error) {
	env := responseEnvelope{SoapNS: soapEnvNS}
	env.Body.Content = content
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newResponse(method string) methodResponse {
	return methodResponse{
		XMLName: xml.Name{Local: method + "Response"},
		NS:      connectorNS,
		Result:  resultValue{XMLName: xml.Name{Local: method + "Result"}},
	}
}

func stringResult(method, value string) methodResponse {
	r := newResponse(method)
	r.Result.Text = value
	return r
}

func intResult(method string, value int) methodResponse {
	return stringResult(method, strconv.Itoa(value))
}

func arrayResult(method string, values ...string) methodResponse {
	r := newResponse(method)
	r.Result.Strings = values
	return r
}
