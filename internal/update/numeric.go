package update

import (
	"fmt"

	"github.com/kartikbazzad/docengine/internal/path"
	"github.com/kartikbazzad/docengine/internal/value"
)

// numberKindPromote adds a and b following number-kind promotion rules:
// int + int stays int, any float operand promotes the result to float.
func numberKindPromote(a, b value.Value) value.Value {
	if a.Kind == value.KindFloat || b.Kind == value.KindFloat {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		return value.Float(af + bf)
	}
	return value.Int(a.Int + b.Int)
}

func applyInc(doc *value.Value, p string, raw any) error {
	delta, err := value.FromAny(raw)
	if err != nil || !delta.IsNumber() {
		return fmt.Errorf("$inc requires a numeric operand")
	}
	res := path.Resolve(*doc, p)
	current := value.Int(0)
	if res.Kind == path.Single && res.Single.IsNumber() {
		current = res.Single
	}
	path.Set(doc, p, numberKindPromote(current, delta))
	return nil
}

func applyMul(doc *value.Value, p string, raw any) error {
	factor, err := value.FromAny(raw)
	if err != nil || !factor.IsNumber() {
		return fmt.Errorf("$mul requires a numeric operand")
	}
	res := path.Resolve(*doc, p)
	current := value.Int(0)
	if res.Kind == path.Single && res.Single.IsNumber() {
		current = res.Single
	}
	var result value.Value
	if current.Kind == value.KindFloat || factor.Kind == value.KindFloat {
		cf, _ := current.AsFloat64()
		ff, _ := factor.AsFloat64()
		result = value.Float(cf * ff)
	} else {
		result = value.Int(current.Int * factor.Int)
	}
	path.Set(doc, p, result)
	return nil
}

func applyMinMax(doc *value.Value, p string, raw any, wantMin bool) error {
	candidate, err := value.FromAny(raw)
	if err != nil {
		return err
	}
	res := path.Resolve(*doc, p)
	if res.IsAbsent() || res.Kind != path.Single {
		path.Set(doc, p, candidate)
		return nil
	}
	cmp, ok := value.Compare(candidate, res.Single)
	if !ok {
		return nil
	}
	replace := (wantMin && cmp < 0) || (!wantMin && cmp > 0)
	if replace {
		path.Set(doc, p, candidate)
	}
	return nil
}
