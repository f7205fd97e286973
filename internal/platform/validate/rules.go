package validate

// Standard rule tables, one per input type. Fields are pointers so a custom
// rule set can override selectively; nil keeps the current setting.

type NumericRules struct {
	Min           *float64
	Max           *float64
	Precision     *int
	AllowNegative *bool
	AllowZero     *bool
}

type TextRules struct {
	MinLength  *int
	MaxLength  *int
	AllowEmpty *bool
	Pattern    *string
	Trim       *bool
}

type DateRules struct {
	MinDate     *string
	MaxDate     *string
	AllowFuture *bool
	AllowPast   *bool
}

type BlobRules struct {
	MaxSize *int
}

// Rules bundles the standard rule tables.
type Rules struct {
	Numeric NumericRules
	Text    TextRules
	Date    DateRules
	Blob    BlobRules
}

func ptr[T any](v T) *T { return &v }

// Defaults returns the built-in standard rules.
func Defaults() Rules {
	return Rules{
		Numeric: NumericRules{
			AllowNegative: ptr(true),
			AllowZero:     ptr(true),
		},
		Text: TextRules{
			MinLength:  ptr(0),
			MaxLength:  ptr(65535),
			AllowEmpty: ptr(true),
			Trim:       ptr(true),
		},
		Date: DateRules{
			MinDate:     ptr("1850-01-01"),
			AllowFuture: ptr(true),
			AllowPast:   ptr(true),
		},
		Blob: BlobRules{
			MaxSize: ptr(10 << 20),
		},
	}
}

func mergeNumeric(dst *NumericRules, src NumericRules) {
	if src.Min != nil {
		dst.Min = src.Min
	}
	if src.Max != nil {
		dst.Max = src.Max
	}
	if src.Precision != nil {
		dst.Precision = src.Precision
	}
	if src.AllowNegative != nil {
		dst.AllowNegative = src.AllowNegative
	}
	if src.AllowZero != nil {
		dst.AllowZero = src.AllowZero
	}
}

func mergeText(dst *TextRules, src TextRules) {
	if src.MinLength != nil {
		dst.MinLength = src.MinLength
	}
	if src.MaxLength != nil {
		dst.MaxLength = src.MaxLength
	}
	if src.AllowEmpty != nil {
		dst.AllowEmpty = src.AllowEmpty
	}
	if src.Pattern != nil {
		dst.Pattern = src.Pattern
	}
	if src.Trim != nil {
		dst.Trim = src.Trim
	}
}

func mergeDate(dst *DateRules, src DateRules) {
	if src.MinDate != nil {
		dst.MinDate = src.MinDate
	}
	if src.MaxDate != nil {
		dst.MaxDate = src.MaxDate
	}
	if src.AllowFuture != nil {
		dst.AllowFuture = src.AllowFuture
	}
	if src.AllowPast != nil {
		dst.AllowPast = src.AllowPast
	}
}

func mergeBlob(dst *BlobRules, src BlobRules) {
	if src.MaxSize != nil {
		dst.MaxSize = src.MaxSize
	}
}

func merge(dst *Rules, src Rules) {
	mergeNumeric(&dst.Numeric, src.Numeric)
	mergeText(&dst.Text, src.Text)
	mergeDate(&dst.Date, src.Date)
	mergeBlob(&dst.Blob, src.Blob)
}
