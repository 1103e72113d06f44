package translate

import "strconv"

// itemQueryRs lists every Ret kind an ItemQuery can return. Each kind keeps its
// own slice so records come out grouped by kind in a stable order.
type itemQueryRs struct {
	Service           []itemRet `xml:"ItemServiceRet"`
	Inventory         []itemRet `xml:"ItemInventoryRet"`
	NonInventory      []itemRet `xml:"ItemNonInventoryRet"`
	InventoryAssembly []itemRet `xml:"ItemInventoryAssemblyRet"`
	FixedAsset        []itemRet `xml:"ItemFixedAssetRet"`
	OtherCharge       []itemRet `xml:"ItemOtherChargeRet"`
	Subtotal          []itemRet `xml:"ItemSubtotalRet"`
	Discount          []itemRet `xml:"ItemDiscountRet"`
	Payment           []itemRet `xml:"ItemPaymentRet"`
	SalesTax          []itemRet `xml:"ItemSalesTaxRet"`
	SalesTaxGroup     []itemRet `xml:"ItemSalesTaxGroupRet"`
	Group             []itemRet `xml:"ItemGroupRet"`
}

type salesOrPurchase struct {
	Desc       string `xml:"Desc"`
	Price      string `xml:"Price"`
	AccountRef *ref   `xml:"AccountRef"`
}

type salesAndPurchase struct {
	SalesDesc        string `xml:"SalesDesc"`
	SalesPrice       string `xml:"SalesPrice"`
	IncomeAccountRef *ref   `xml:"IncomeAccountRef"`
	PurchaseDesc     string `xml:"PurchaseDesc"`
	PurchaseCost     string `xml:"PurchaseCost"`
}

type itemGroupLine struct {
	ItemRef       *ref   `xml:"ItemRef"`
	Quantity      string `xml:"Quantity"`
	UnitOfMeasure string `xml:"UnitOfMeasure"`
}

type itemRet struct {
	kind string

	ListID       string `xml:"ListID"`
	EditSequence string `xml:"EditSequence"`
	Name         string `xml:"Name"`
	FullName     string `xml:"FullName"`
	IsActive     string `xml:"IsActive"`
	Sublevel     string `xml:"Sublevel"`

	SalesOrPurchase  *salesOrPurchase  `xml:"SalesOrPurchase"`
	SalesAndPurchase *salesAndPurchase `xml:"SalesAndPurchase"`
	SalesTaxCodeRef  *ref              `xml:"SalesTaxCodeRef"`

	SalesDesc              string `xml:"SalesDesc"`
	PurchaseDesc           string `xml:"PurchaseDesc"`
	SalesOrPurchaseDesc    string `xml:"SalesOrPurchaseDesc"`
	ItemDesc               string `xml:"ItemDesc"`
	SalesPrice             string `xml:"SalesPrice"`
	PurchaseCost           string `xml:"PurchaseCost"`
	QuantityOnHand         string `xml:"QuantityOnHand"`
	AverageCost            string `xml:"AverageCost"`
	ReorderPoint           string `xml:"ReorderPoint"`
	Max                    string `xml:"Max"`
	BuildPoint             string `xml:"BuildPoint"`
	ManufacturerPartNumber string `xml:"ManufacturerPartNumber"`
	DiscountRate           string `xml:"DiscountRate"`
	DiscountRatePercent    string `xml:"DiscountRatePercent"`
	TaxRate                string `xml:"TaxRate"`

	IncomeAccountRef *ref `xml:"IncomeAccountRef"`
	AssetAccountRef  *ref `xml:"AssetAccountRef"`
	COGSAccountRef   *ref `xml:"COGSAccountRef"`
	PrefVendorRef    *ref `xml:"PrefVendorRef"`
	AccountRef       *ref `xml:"AccountRef"`
	TaxVendorRef     *ref `xml:"TaxVendorRef"`

	GroupLines []itemGroupLine `xml:"ItemGroupLine"`
}

func itemRets(r *qbxmlResponse) []itemRet {
	rs := r.Msgs.Item
	if rs == nil {
		return nil
	}
	kinds := []struct {
		name string
		rets []itemRet
	}{
		{"Service", rs.Service},
		{"Inventory", rs.Inventory},
		{"NonInventory", rs.NonInventory},
		{"InventoryAssembly", rs.InventoryAssembly},
		{"FixedAsset", rs.FixedAsset},
		{"OtherCharge", rs.OtherCharge},
		{"Subtotal", rs.Subtotal},
		{"Discount", rs.Discount},
		{"Payment", rs.Payment},
		{"SalesTax", rs.SalesTax},
		{"SalesTaxGroup", rs.SalesTaxGroup},
		{"Group", rs.Group},
	}
	var out []itemRet
	for _, k := range kinds {
		for _, ret := range k.rets {
			ret.kind = k.name
			out = append(out, ret)
		}
	}
	return out
}

func itemFields(it itemRet) map[string]any {
	sublevel, err := strconv.Atoi(it.Sublevel)
	if err != nil {
		sublevel = 0
	}
	f := map[string]any{
		"ListID":       text(it.ListID),
		"EditSequence": text(it.EditSequence),
		"Name":         text(it.Name),
		"FullName":     firstText(it.FullName, it.Name),
		"Type":         it.kind,
		"IsActive":     flag(it.IsActive),
		"Sublevel":     sublevel,
	}

	sop := it.SalesOrPurchase
	if sop == nil {
		sop = &salesOrPurchase{}
	}
	sap := it.SalesAndPurchase
	if sap == nil {
		sap = &salesAndPurchase{}
	}

	switch it.kind {
	case "Service":
		f["Description"] = firstText(sop.Desc, sap.SalesDesc)
		f["Price"] = firstNumber(sop.Price, sap.SalesPrice)
		f["Cost"] = number(sap.PurchaseCost)
		f["AccountRef"] = firstRef(sop.AccountRef, sap.IncomeAccountRef)
		f["TaxCode"] = refName(it.SalesTaxCodeRef)
	case "Inventory":
		f["Description"] = firstText(it.SalesDesc, it.PurchaseDesc)
		f["Price"] = number(it.SalesPrice)
		f["Cost"] = number(it.PurchaseCost)
		f["QuantityOnHand"] = numberOr(it.QuantityOnHand, 0)
		f["AverageCost"] = number(it.AverageCost)
		f["ReorderPoint"] = number(it.ReorderPoint)
		f["Max"] = number(it.Max)
		f["IncomeAccountRef"] = refName(it.IncomeAccountRef)
		f["AssetAccountRef"] = refName(it.AssetAccountRef)
		f["COGSAccountRef"] = refName(it.COGSAccountRef)
		f["TaxCode"] = refName(it.SalesTaxCodeRef)
		f["PreferredVendor"] = refName(it.PrefVendorRef)
		f["ManufacturerPartNumber"] = text(it.ManufacturerPartNumber)
	case "NonInventory", "OtherCharge":
		f["Description"] = firstText(it.SalesOrPurchaseDesc, sop.Desc, sap.SalesDesc, it.SalesDesc, it.PurchaseDesc)
		f["Price"] = firstNumber(sap.SalesPrice, sop.Price)
		f["Cost"] = number(sap.PurchaseCost)
		f["AccountRef"] = firstRef(sap.IncomeAccountRef, sop.AccountRef)
		f["TaxCode"] = refName(it.SalesTaxCodeRef)
	case "InventoryAssembly":
		f["Description"] = text(it.SalesDesc)
		f["Price"] = number(it.SalesPrice)
		f["QuantityOnHand"] = numberOr(it.QuantityOnHand, 0)
		f["BuildPoint"] = number(it.BuildPoint)
		f["IncomeAccountRef"] = refName(it.IncomeAccountRef)
		f["AssetAccountRef"] = refName(it.AssetAccountRef)
		f["COGSAccountRef"] = refName(it.COGSAccountRef)
	case "Discount":
		f["Description"] = text(it.ItemDesc)
		f["DiscountRate"] = number(it.DiscountRate)
		f["DiscountRatePercent"] = number(it.DiscountRatePercent)
		f["AccountRef"] = refName(it.AccountRef)
	case "SalesTax":
		f["Description"] = text(it.ItemDesc)
		f["TaxRate"] = number(it.TaxRate)
		f["TaxVendorRef"] = refName(it.TaxVendorRef)
	case "Group":
		f["Description"] = text(it.ItemDesc)
		f["ItemGroupLines"] = groupLines(it.GroupLines)
	case "SalesTaxGroup":
		f["Description"] = text(it.ItemDesc)
	}
	return f
}

func groupLines(lines []itemGroupLine) []any {
	out := make([]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{
			"ItemRef":       refName(l.ItemRef),
			"Quantity":      numberOr(l.Quantity, 1),
			"UnitOfMeasure": text(l.UnitOfMeasure),
		})
	}
	return out
}

func firstNumber(values ...string) any {
	for _, v := range values {
		if n := number(v); n != nil {
			return n
		}
	}
	return nil
}
