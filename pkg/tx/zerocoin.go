package tx

// Denomination is a zerocoin denomination, in whole coins.
type Denomination int64

// Denominations lists the valid zerocoin denominations in ascending order.
var Denominations = []Denomination{1, 5, 10, 50, 100, 500, 1000, 5000}

// DenominationFromSequence decodes the denomination a zerocoin spend input
// carries in its sequence field. ok is false for unknown values.
func DenominationFromSequence(seq uint32) (Denomination, bool) {
	d := Denomination(seq)
	for _, v := range Denominations {
		if v == d {
			return d, true
		}
	}
	return 0, false
}
