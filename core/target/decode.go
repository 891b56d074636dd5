package target

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	kwilTypes "github.com/trufnetwork/kwil-db/core/types"
)

// decodeRows scans each row of result into a T, matching columns to fields
// by json tag or, failing that, by case-insensitive field name. Columns with
// no matching field are discarded.
func decodeRows[T any](result *kwilTypes.QueryResult) ([]T, error) {
	if result == nil {
		return nil, errors.New("query result is nil")
	}
	elem := reflect.TypeOf((*T)(nil)).Elem()
	if elem.Kind() != reflect.Struct {
		return nil, errors.Errorf("decodeRows: %s is not a struct", elem)
	}
	fields := columnFields(elem, result.ColumnNames)

	out := make([]T, 0, len(result.Values))
	for _, row := range result.Values {
		if len(row) != len(fields) {
			return nil, errors.Errorf("row has %d values, want %d columns", len(row), len(fields))
		}
		var item T
		v := reflect.ValueOf(&item).Elem()
		dst := make([]any, len(fields))
		for i, f := range fields {
			if f < 0 {
				dst[i] = new(any)
				continue
			}
			dst[i] = v.Field(f).Addr().Interface()
		}
		if err := kwilTypes.ScanTo(row, dst...); err != nil {
			return nil, errors.Wrapf(err, "scan row into %s", elem.Name())
		}
		out = append(out, item)
	}
	return out, nil
}

func columnFields(t reflect.Type, columns []string) []int {
	fields := make([]int, len(columns))
	for c, name := range columns {
		fields[c] = -1
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" {
				continue
			}
			tag := strings.Split(f.Tag.Get("json"), ",")[0]
			if tag == "-" {
				continue
			}
			if (tag != "" && tag == name) || (tag == "" && strings.EqualFold(f.Name, name)) {
				fields[c] = i
				break
			}
		}
	}
	return fields
}
