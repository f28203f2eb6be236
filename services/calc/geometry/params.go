// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geometry

import (
	"math"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

// Input keys for the user parameters.
const (
	KeyTotalSpanLength = "total_span_length"
	KeyWidthFrontSpan  = "width_front_span"
	KeyWidthBackSpan   = "width_back_span"
	KeyTotalBayLength  = "total_bay_length"
	KeyWidthFrontBay   = "width_front_bay"
	KeyWidthBackBay    = "width_back_bay"
	KeySpanWidth       = "span_width"
	KeyBayWidth        = "bay_width"
)

// Input keys for the derived base geometry.
const (
	KeySpanLength    = "span_length"
	KeyBayLength     = "bay_length"
	KeyNoOfSpans     = "no_of_spans"
	KeyNoOfBays      = "no_of_bays"
	KeyStructureSize = "structure_size"
)

// Params are the user-entered greenhouse dimensions, in metres.
type Params struct {
	TotalSpanLength float64 `json:"total_span_length" yaml:"total_span_length" validate:"gte=0"`
	WidthFrontSpan  float64 `json:"width_front_span" yaml:"width_front_span" validate:"gte=0"`
	WidthBackSpan   float64 `json:"width_back_span" yaml:"width_back_span" validate:"gte=0"`
	TotalBayLength  float64 `json:"total_bay_length" yaml:"total_bay_length" validate:"gte=0"`
	WidthFrontBay   float64 `json:"width_front_bay" yaml:"width_front_bay" validate:"gte=0"`
	WidthBackBay    float64 `json:"width_back_bay" yaml:"width_back_bay" validate:"gte=0"`
	SpanWidth       float64 `json:"span_width" yaml:"span_width" validate:"gte=0"`
	BayWidth        float64 `json:"bay_width" yaml:"bay_width" validate:"gte=0"`
}

// Values returns the parameters keyed by input code.
func (p Params) Values() map[string]expr.Value {
	return map[string]expr.Value{
		KeyTotalSpanLength: expr.Float(p.TotalSpanLength),
		KeyWidthFrontSpan:  expr.Float(p.WidthFrontSpan),
		KeyWidthBackSpan:   expr.Float(p.WidthBackSpan),
		KeyTotalBayLength:  expr.Float(p.TotalBayLength),
		KeyWidthFrontBay:   expr.Float(p.WidthFrontBay),
		KeyWidthBackBay:    expr.Float(p.WidthBackBay),
		KeySpanWidth:       expr.Float(p.SpanWidth),
		KeyBayWidth:        expr.Float(p.BayWidth),
	}
}

// Base is the geometry derived from Params before any rule runs.
type Base struct {
	SpanLength    float64 `json:"span_length" yaml:"span_length"`
	BayLength     float64 `json:"bay_length" yaml:"bay_length"`
	NoOfSpans     int64   `json:"no_of_spans" yaml:"no_of_spans"`
	NoOfBays      int64   `json:"no_of_bays" yaml:"no_of_bays"`
	StructureSize float64 `json:"structure_size" yaml:"structure_size"`
}

// Derive computes the base geometry.
//
// Description:
//
//	span_length    = total_span_length - width_front_span - width_back_span
//	bay_length     = total_bay_length - width_front_bay - width_back_bay
//	no_of_spans    = floor(bay_length / span_width)
//	no_of_bays     = floor(span_length / bay_width)
//	structure_size = (span_length + width_front_bay + width_back_bay) *
//	                 (bay_length + width_front_span + width_back_span)
//
//	A zero span_width or bay_width yields a count of 0.
func Derive(p Params) Base {
	spanLength := p.TotalSpanLength - p.WidthFrontSpan - p.WidthBackSpan
	bayLength := p.TotalBayLength - p.WidthFrontBay - p.WidthBackBay
	return Base{
		SpanLength:    spanLength,
		BayLength:     bayLength,
		NoOfSpans:     floorDiv(bayLength, p.SpanWidth),
		NoOfBays:      floorDiv(spanLength, p.BayWidth),
		StructureSize: (spanLength + p.WidthFrontBay + p.WidthBackBay) * (bayLength + p.WidthFrontSpan + p.WidthBackSpan),
	}
}

func floorDiv(n, d float64) int64 {
	if d == 0 {
		return 0
	}
	q := math.Floor(n / d)
	if math.IsInf(q, 0) || math.IsNaN(q) {
		return 0
	}
	return int64(q)
}

// Values returns the derived geometry keyed by input code.
func (b Base) Values() map[string]expr.Value {
	return map[string]expr.Value{
		KeySpanLength:    expr.Float(b.SpanLength),
		KeyBayLength:     expr.Float(b.BayLength),
		KeyNoOfSpans:     expr.Int(b.NoOfSpans),
		KeyNoOfBays:      expr.Int(b.NoOfBays),
		KeyStructureSize: expr.Float(b.StructureSize),
	}
}
