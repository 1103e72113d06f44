package translate

type customerQueryRs struct {
	Rets []customerRet `xml:"CustomerRet"`
}

type customerRet struct {
	ListID      string `xml:"ListID"`
	FullName    string `xml:"FullName"`
	CompanyName string `xml:"CompanyName"`
	Name        string `xml:"Name"`
	IsActive    string `xml:"IsActive"`
	ClassRef    *ref   `xml:"ClassRef"`
	JobType     string `xml:"JobType"`
	ParentRef   *ref   `xml:"ParentRef"`
}

func customerRets(r *qbxmlResponse) []customerRet {
	if r.Msgs.Customer == nil {
		return nil
	}
	return r.Msgs.Customer.Rets
}

func customerFields(c customerRet) map[string]any {
	return map[string]any{
		"ListID":        text(c.ListID),
		"Full Name":     text(c.FullName),
		"Bill To":       text(c.CompanyName),
		"Job Name":      text(c.Name),
		"IsActive":      flag(c.IsActive),
		"Class":         refName(c.ClassRef),
		"Job Type":      text(c.JobType),
		"Customer Name": refName(c.ParentRef),
	}
}
