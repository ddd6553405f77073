package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Everforest palette, 256-colour escapes.
const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorFg     = "\x1b[38;5;223m"
	colorTime   = "\x1b[38;5;107m"
	colorGreen  = "\x1b[38;5;108m"
	colorAqua   = "\x1b[38;5;109m"
	colorOrange = "\x1b[38;5;208m"
	colorYellow = "\x1b[38;5;179m"
	colorRed    = "\x1b[38;5;167m"
	colorRedBg  = "\x1b[48;5;52m"
	colorYelBg  = "\x1b[48;5;58m"
)

var bufferPool = buffer.NewPool()

// minimalEncoder is a compact console encoder:
//
//	13:04:35  ꩜  p.session  Session started  3f2a… 1800s
//
// Symbol first, then component, message and the values of the fields a
// human cares about. Everything else is dropped; use JSON output for the
// full record.
type minimalEncoder struct {
	zapcore.Encoder
	symbol string
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{
		Encoder: enc.Encoder.Clone(),
		symbol:  enc.symbol,
	}
}

// AddString captures the symbol field added through logger.With so child
// loggers keep their glyph.
func (enc *minimalEncoder) AddString(key, value string) {
	if key == FieldSymbol {
		enc.symbol = value
		return
	}
	enc.Encoder.AddString(key, value)
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := bufferPool.Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if lvl := levelColorString(ent.Level); lvl != "" {
		final.AppendString("  ")
		final.AppendString(lvl)
	}

	symbol := enc.symbol
	for _, f := range fields {
		if f.Key == FieldSymbol && f.Type == zapcore.StringType {
			symbol = f.String
		}
	}
	if symbol != "" {
		final.AppendString("  ")
		final.AppendString(colorGreen)
		final.AppendString(symbol)
		final.AppendString(colorReset)
	}

	if ent.LoggerName != "" {
		final.AppendString("  ")
		final.AppendString(colorOrange)
		final.AppendString(abbreviateName(ent.LoggerName))
		final.AppendString(colorReset)
	}

	final.AppendString("  ")
	final.AppendString(colorFg)
	final.AppendString(ent.Message)
	final.AppendString(colorReset)

	if vals := extractFieldValues(fields); vals != "" {
		final.AppendString("  ")
		final.AppendString(vals)
	}

	final.AppendString("\n")
	return final, nil
}

func levelColorString(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorYelBg + colorYellow + "WARN" + colorReset
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorRedBg + colorRed + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: pulse.session -> p.session
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 && parts[0] != "" {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

func getFieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	case zapcore.DurationType:
		return time.Duration(field.Integer).String()
	case zapcore.BoolType:
		return fmt.Sprintf("%t", field.Integer == 1)
	}
	if field.Interface != nil {
		return fmt.Sprintf("%v", field.Interface)
	}
	return ""
}

// extractFieldValues renders the fields worth showing on a console line.
func extractFieldValues(fields []zapcore.Field) string {
	var values []string
	for _, field := range fields {
		val := getFieldValue(field)
		if val == "" {
			continue
		}
		switch field.Key {
		case FieldJobID:
			if len(val) > 8 {
				val = val[:8]
			}
			values = append(values, colorAqua+val+colorReset)
		case FieldState, FieldErrorKind:
			values = append(values, colorOrange+val+colorReset)
		case FieldDurationSec:
			values = append(values, colorGreen+val+colorReset+"s")
		case FieldDurationMS:
			values = append(values, colorGreen+val+colorReset+"ms")
		case FieldOutputPath, FieldPath, FieldAddress, FieldDevice:
			values = append(values, colorFg+val+colorReset)
		case FieldError:
			values = append(values, colorRed+val+colorReset)
		}
	}
	return strings.Join(values, " ")
}
