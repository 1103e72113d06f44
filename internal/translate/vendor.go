package translate

type vendorQueryRs struct {
	Rets []vendorRet `xml:"VendorRet"`
}

type vendorRet struct {
	ListID                  string `xml:"ListID"`
	Name                    string `xml:"Name"`
	CompanyName             string `xml:"CompanyName"`
	IsActive                string `xml:"IsActive"`
	VendorTaxIdent          string `xml:"VendorTaxIdent"`
	IsVendorEligibleFor1099 string `xml:"IsVendorEligibleFor1099"`
	TermsRef                *ref   `xml:"TermsRef"`
	Balance                 string `xml:"Balance"`
	Address                 *struct {
		Addr1      string `xml:"Addr1"`
		Addr2      string `xml:"Addr2"`
		City       string `xml:"City"`
		State      string `xml:"State"`
		PostalCode string `xml:"PostalCode"`
	} `xml:"VendorAddress"`
}

func vendorRets(r *qbxmlResponse) []vendorRet {
	if r.Msgs.Vendor == nil {
		return nil
	}
	return r.Msgs.Vendor.Rets
}

func vendorFields(v vendorRet) map[string]any {
	addr := map[string]any{"Addr1": nil, "Addr2": nil, "City": nil, "State": nil, "PostalCode": nil}
	if a := v.Address; a != nil {
		addr["Addr1"] = text(a.Addr1)
		addr["Addr2"] = text(a.Addr2)
		addr["City"] = text(a.City)
		addr["State"] = text(a.State)
		addr["PostalCode"] = text(a.PostalCode)
	}
	return map[string]any{
		"ListID":                  text(v.ListID),
		"Name":                    text(v.Name),
		"CompanyName":             text(v.CompanyName),
		"IsActive":                flag(v.IsActive),
		"VendorTaxIdent":          text(v.VendorTaxIdent),
		"IsVendorEligibleFor1099": flag(v.IsVendorEligibleFor1099),
		"Terms":                   refName(v.TermsRef),
		"Balance":                 numberOr(v.Balance, 0),
		"Address":                 addr,
	}
}
