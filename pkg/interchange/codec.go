package interchange

import (
	"encoding/json"
	"io"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/logflow/ccm/pkg/errors"
)

// Format is an interchange document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", errors.Usage("unknown interchange format %q", s)
	}
}

// FormatForPath guesses the format from a file extension. Anything that is
// not .yaml or .yml is treated as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

var documentValidate *validator.Validate

func init() {
	documentValidate = validator.New()
	documentValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Decode reads a document from r and validates its structure.
func Decode(r io.Reader, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidDocument, "decode json document")
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.CodeInvalidDocument, "decode yaml document")
		}
	default:
		return nil, errors.Usage("unknown interchange format %q", format)
	}

	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks required fields. Every violation is reported; the result
// is a MissingField error or a MultiError of them.
func Validate(doc *Document) error {
	err := documentValidate.Struct(doc)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, errors.CodeInvalidDocument, "validate document")
	}

	var errs errors.MultiError
	for _, fe := range verrs {
		record := strings.TrimPrefix(fe.Namespace(), "Document.")
		record = strings.TrimSuffix(record, "."+fe.Field())
		switch fe.Tag() {
		case "required", "required_without":
			errs.Add(errors.MissingField(record, fe.Field()))
		default:
			errs.Add(errors.Newf(errors.CodeInvalidDocument, "field failed %q validation", fe.Tag()).
				WithContext("record", record).
				WithContext("field", fe.Field()))
		}
	}
	return errs.Combined()
}

// Encode writes doc to w.
func Encode(w io.Writer, doc *Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "encode json document")
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "encode yaml document")
		}
		if err := enc.Close(); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "encode yaml document")
		}
		return nil
	default:
		return errors.Usage("unknown interchange format %q", format)
	}
}
