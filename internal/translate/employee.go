package translate

type employeeQueryRs struct {
	Rets []employeeRet `xml:"EmployeeRet"`
}

type employeeRet struct {
	ListID    string           `xml:"ListID"`
	Name      string           `xml:"Name"`
	FirstName string           `xml:"FirstName"`
	LastName  string           `xml:"LastName"`
	IsActive  string           `xml:"IsActive"`
	Payroll   *employeePayroll `xml:"EmployeePayrollInfo"`
}

type employeePayroll struct {
	PayPeriod          string     `xml:"PayPeriod"`
	ClassRef           *ref       `xml:"ClassRef"`
	WorkersCompCodeRef *ref       `xml:"WorkersCompCodeRef"`
	Earnings           []earnings `xml:"Earnings"`
}

type earnings struct {
	PayrollItemWageRef *ref   `xml:"PayrollItemWageRef"`
	Rate               string `xml:"Rate"`
	HourlyRate         string `xml:"HourlyRate"`
	AnnualSalary       string `xml:"AnnualSalary"`
}

func employeeRets(r *qbxmlResponse) []employeeRet {
	if r.Msgs.Employee == nil {
		return nil
	}
	return r.Msgs.Employee.Rets
}

func employeeFields(e employeeRet) map[string]any {
	rates := make([]any, 0)
	var payPeriod, workComp, className any
	if p := e.Payroll; p != nil {
		for _, earn := range p.Earnings {
			rates = append(rates, earningsRate(earn))
		}
		payPeriod = text(p.PayPeriod)
		workComp = refName(p.WorkersCompCodeRef)
		className = refName(p.ClassRef)
	}

	var primaryName, primaryRate, primaryType any
	if len(rates) > 0 {
		first := rates[0].(map[string]any)
		primaryName = first["WageName"]
		primaryRate = first["HourlyRate"]
		primaryType = first["RateType"]
	}

	return map[string]any{
		"ListID":              text(e.ListID),
		"Name":                text(e.Name),
		"FirstName":           text(e.FirstName),
		"LastName":            text(e.LastName),
		"IsActive":            flag(e.IsActive),
		"PrimaryEarningsRate": primaryName,
		"PrimaryHourlyRate":   primaryRate,
		"PrimaryRateType":     primaryType,
		"AllEarningsRates":    rates,
		"EarningsCount":       len(rates),
		"WorkCompCode":        workComp,
		"PayPeriod":           payPeriod,
		"ClassName":           className,
	}
}

func earningsRate(e earnings) map[string]any {
	wage := "Unknown"
	if r := e.PayrollItemWageRef; r != nil {
		if n := firstText(r.FullName, r.ListID); n != nil {
			wage = n.(string)
		}
	}
	hourly := number(e.Rate)
	if hourly == nil {
		hourly = number(e.HourlyRate)
	}
	salary := number(e.AnnualSalary)

	rateType := "Unknown"
	switch {
	case hourly != nil:
		rateType = "Hourly"
	case salary != nil:
		rateType = "Salary"
	}
	return map[string]any{
		"WageName":     wage,
		"HourlyRate":   hourly,
		"AnnualSalary": salary,
		"RateType":     rateType,
	}
}
