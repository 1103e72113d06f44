// Package translate turns qbXML query responses into canonical records.
//
// Translators never fail: an empty, malformed or unexpected response yields an
// empty sequence and a warning. Vendor string encodings for booleans and numbers
// are normalised here so the reconciliation engine only sees typed values.
package translate

import (
	"bytes"
	"encoding/xml"
	"io"
	"iter"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"qbwc-sync/internal/logging"
	"qbwc-sync/internal/models"
)

// Translator converts a raw response for one entity type into records.
type Translator interface {
	Translate(raw string) iter.Seq[models.Record]
}

// Registry maps entity types to their translators.
type Registry struct {
	translators map[string]Translator
	logger      *zap.Logger
}

// NewRegistry returns a registry with translators for every catalog entity type.
func NewRegistry(logger *zap.Logger) *Registry {
	logger = logging.OrNop(logger)
	r := &Registry{translators: make(map[string]Translator), logger: logger}
	r.Register(models.EntityCustomer, newXMLTranslator(models.EntityCustomer, customerRets, customerFields, logger))
	r.Register(models.EntityEmployee, newXMLTranslator(models.EntityEmployee, employeeRets, employeeFields, logger))
	r.Register(models.EntityVendor, newXMLTranslator(models.EntityVendor, vendorRets, vendorFields, logger))
	r.Register(models.EntityItem, newXMLTranslator(models.EntityItem, itemRets, itemFields, logger))
	r.Register(models.EntityPriceLevel, newXMLTranslator(models.EntityPriceLevel, priceLevelRets, priceLevelFields, logger))
	return r
}

// Register binds a translator to an entity type, replacing any previous one.
func (r *Registry) Register(entityType string, t Translator) {
	if entityType == "" || t == nil {
		return
	}
	r.translators[entityType] = t
}

// Translate routes raw to the translator for entityType. Unknown types yield nothing.
func (r *Registry) Translate(entityType, raw string) iter.Seq[models.Record] {
	t, ok := r.translators[entityType]
	if !ok {
		r.logger.Warn("no translator registered", zap.String("entity_type", entityType))
		return func(func(models.Record) bool) {}
	}
	return t.Translate(raw)
}

// keyField is the natural key every qbXML list entity carries.
const keyField = "ListID"

type xmlTranslator[T any] struct {
	entityType string
	extract    func(*qbxmlResponse) []T
	fields     func(T) map[string]any
	logger     *zap.Logger
}

func newXMLTranslator[T any](entityType string, extract func(*qbxmlResponse) []T, fields func(T) map[string]any, logger *zap.Logger) *xmlTranslator[T] {
	return &xmlTranslator[T]{entityType: entityType, extract: extract, fields: fields, logger: logger}
}

// Translate decodes lazily on each iteration, so the sequence can be replayed.
func (t *xmlTranslator[T]) Translate(raw string) iter.Seq[models.Record] {
	return func(yield func(models.Record) bool) {
		if strings.TrimSpace(raw) == "" {
			t.logger.Warn("empty response", zap.String("entity_type", t.entityType))
			return
		}
		resp, err := decodeResponse(raw)
		if err != nil {
			t.logger.Warn("malformed response", zap.String("entity_type", t.entityType), zap.Error(err))
			return
		}
		for i, ret := range t.extract(resp) {
			fields := t.fields(ret)
			key, _ := fields[keyField].(string)
			if key == "" {
				t.logger.Warn("skipping record without ListID", zap.String("entity_type", t.entityType), zap.Int("index", i))
				continue
			}
			if !yield(models.Record{Type: t.entityType, Key: key, Fields: fields}) {
				return
			}
		}
	}
}

// qbxmlResponse covers the query responses the catalog asks for.
type qbxmlResponse struct {
	XMLName xml.Name `xml:"QBXML"`
	Msgs    struct {
		Customer   *customerQueryRs   `xml:"CustomerQueryRs"`
		Employee   *employeeQueryRs   `xml:"EmployeeQueryRs"`
		Vendor     *vendorQueryRs     `xml:"VendorQueryRs"`
		Item       *itemQueryRs       `xml:"ItemQueryRs"`
		PriceLevel *priceLevelQueryRs `xml:"PriceLevelQueryRs"`
	} `xml:"QBXMLMsgsRs"`
}

func decodeResponse(raw string) (*qbxmlResponse, error) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(raw)))
	// qbXML declares legacy encodings; the payload is ASCII in practice.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	var resp qbxmlResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type ref struct {
	ListID   string `xml:"ListID"`
	FullName string `xml:"FullName"`
}

func text(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func flag(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func number(s string) any {
	if f, ok := parseNumber(s); ok {
		return f
	}
	return nil
}

func numberOr(s string, def float64) float64 {
	if f, ok := parseNumber(s); ok {
		return f
	}
	return def
}

func refName(r *ref) any {
	if r == nil {
		return nil
	}
	return text(r.FullName)
}

// firstText returns the first non-empty value.
func firstText(values ...string) any {
	for _, v := range values {
		if t := text(v); t != nil {
			return t
		}
	}
	return nil
}

func firstRef(refs ...*ref) any {
	for _, r := range refs {
		if n := refName(r); n != nil {
			return n
		}
	}
	return nil
}
