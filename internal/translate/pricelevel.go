package translate

type priceLevelQueryRs struct {
	Rets []priceLevelRet `xml:"PriceLevelRet"`
}

type priceLevelRet struct {
	ListID                    string `xml:"ListID"`
	Name                      string `xml:"Name"`
	IsActive                  string `xml:"IsActive"`
	PriceLevelType            string `xml:"PriceLevelType"`
	PriceLevelFixedPercentage string `xml:"PriceLevelFixedPercentage"`
	PerItem                   []struct {
		ItemRef         *ref   `xml:"ItemRef"`
		CustomPrice     string `xml:"CustomPrice"`
		AdjustPercent   string `xml:"AdjustPercent"`
		CustomPriceType string `xml:"CustomPriceType"`
	} `xml:"PriceLevelPerItemRet"`
}

func priceLevelRets(r *qbxmlResponse) []priceLevelRet {
	if r.Msgs.PriceLevel == nil {
		return nil
	}
	return r.Msgs.PriceLevel.Rets
}

func priceLevelFields(p priceLevelRet) map[string]any {
	var fixed any
	perItem := make([]any, 0)
	switch p.PriceLevelType {
	case "FixedPercentage":
		fixed = number(p.PriceLevelFixedPercentage)
	case "PerItem":
		for _, pi := range p.PerItem {
			item := map[string]any{"ListID": nil, "FullName": nil}
			if pi.ItemRef != nil {
				item["ListID"] = text(pi.ItemRef.ListID)
				item["FullName"] = text(pi.ItemRef.FullName)
			}
			perItem = append(perItem, map[string]any{
				"ItemRef":         item,
				"CustomPrice":     number(pi.CustomPrice),
				"AdjustPercent":   number(pi.AdjustPercent),
				"CustomPriceType": text(pi.CustomPriceType),
			})
		}
	}
	return map[string]any{
		"ListID":                    text(p.ListID),
		"Name":                      text(p.Name),
		"IsActive":                  flag(p.IsActive),
		"PriceLevelType":            text(p.PriceLevelType),
		"PriceLevelFixedPercentage": fixed,
		"PriceLevelPerItemRet":      perItem,
	}
}
