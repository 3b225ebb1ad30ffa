package comps

import (
	"context"
	"fmt"
	"math"

	"github.com/jkowitt/loud-legacy-sub001/internal/resolver"
)

const estimateSystemPrompt = "You are a real estate comparable sales assistant. Based on the subject property, estimate recent nearby sales. " +
	"Return ONLY valid JSON: {\"comps\": [{\"address\": string, \"salePrice\": number, \"saleDate\": \"YYYY-MM-DD\", " +
	"\"squareFeet\": number|null, \"bedrooms\": number|null, \"bathrooms\": number|null, \"distanceMiles\": number|null}]}. " +
	"Be realistic for the location. If you cannot estimate, return an empty array."

type estimateReply struct {
	Comps []struct {
		Address       string   `json:"address"`
		SalePrice     float64  `json:"salePrice"`
		SaleDate      string   `json:"saleDate"`
		SquareFeet    *float64 `json:"squareFeet"`
		Bedrooms      *float64 `json:"bedrooms"`
		Bathrooms     *float64 `json:"bathrooms"`
		DistanceMiles *float64 `json:"distanceMiles"`
	} `json:"comps"`
}

// estimateComps：估算可比成交，结果带免责声明且从不计费
func estimateComps(ctx context.Context, e Estimator, req Request) (Response, error) {
	var reply estimateReply
	user := fmt.Sprintf("Subject property: %s. Property type: %s. Provide up to %d comparable sales from the last %d months.",
		req.fullAddress(), firstNonEmpty(req.PropertyType, "unknown"), req.Limit, req.LookbackMonths)
	if err := e.ChatJSON(ctx, estimateSystemPrompt, user, 1200, 0.3, &reply); err != nil {
		return Response{}, err
	}
	out := make([]Comp, 0, len(reply.Comps))
	for _, c := range reply.Comps {
		if c.Address == "" || c.SalePrice <= 0 {
			continue
		}
		comp := Comp{
			Address:       c.Address,
			PropertyType:  req.PropertyType,
			Bedrooms:      c.Bedrooms,
			Bathrooms:     c.Bathrooms,
			SquareFeet:    c.SquareFeet,
			SalePrice:     c.SalePrice,
			SaleDate:      c.SaleDate,
			DistanceMiles: c.DistanceMiles,
		}
		if c.SquareFeet != nil && *c.SquareFeet > 0 {
			v := math.Round(c.SalePrice / *c.SquareFeet)
			comp.PricePerSqft = &v
		}
		out = append(out, comp)
	}
	if len(out) == 0 {
		return Response{}, resolver.NewFailure("openai", resolver.KindEmpty, nil)
	}
	sortByDistance(out)
	total := len(out)
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return Response{
		Success:      true,
		Comps:        out,
		TotalFound:   total,
		LookbackDays: req.LookbackMonths * 30,
		Source:       resolver.SourceOpenAI,
		Disclaimer:   DisclaimerEstimate,
	}, nil
}
