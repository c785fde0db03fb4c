package gallery

const (
	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"
	SortNameAsc  = "name_asc"
	SortNameNat  = "name_nat"
)

// display ordering is a derived view; storage order stays insertion order
const DefaultSortOrder = SortDateDesc

// IsValidSortOrder checks if a string is a valid sort order constant
func IsValidSortOrder(order string) bool {
	switch order {
	case SortDateDesc, SortDateAsc, SortNameAsc, SortNameNat:
		return true
	default:
		return false
	}
}
