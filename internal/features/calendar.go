package features

// Calendar flags come from explicit per-year lookup tables. Movable feasts
// shift against the civil calendar every year, so they are data supplied by
// domain owners, never computed.

// CalendarTable maps years to feast months and holds the fixed-season month
// sets. All fields are overridable through configuration.
type CalendarTable struct {
	// RamadanMonth is the month in which most of Ramadan falls per year.
	RamadanMonth map[int]int
	// EidAlAdhaMonth per year.
	EidAlAdhaMonth map[int]int
	WinterMonths   []int
	SummerMonths   []int
	SchoolMonths   []int
}

// DefaultCalendarTable returns the business tables covering 2021-2025.
func DefaultCalendarTable() *CalendarTable {
	return &CalendarTable{
		RamadanMonth: map[int]int{
			2021: 4,
			2022: 4,
			2023: 3,
			2024: 3,
			2025: 2,
		},
		EidAlAdhaMonth: map[int]int{
			2021: 7,
			2022: 7,
			2023: 6,
			2024: 6,
			2025: 6,
		},
		WinterMonths: []int{12, 1, 2},
		SummerMonths: []int{6, 7, 8},
		SchoolMonths: []int{9, 10, 11, 12, 1, 2, 3, 4, 5},
	}
}

// IsRamadan reports whether the given period falls in Ramadan.
func (c *CalendarTable) IsRamadan(year, month int) bool {
	m, ok := c.RamadanMonth[year]
	return ok && m == month
}

// IsEidAlFitr reports whether the period holds Eid al-Fitr, the month
// following Ramadan. A December Ramadan spills Eid into January of the
// next year.
func (c *CalendarTable) IsEidAlFitr(year, month int) bool {
	if m, ok := c.RamadanMonth[year]; ok && m < 12 && month == m+1 {
		return true
	}
	if m, ok := c.RamadanMonth[year-1]; ok && m == 12 && month == 1 {
		return true
	}
	return false
}

// IsEidAlAdha reports whether the period holds Eid al-Adha.
func (c *CalendarTable) IsEidAlAdha(year, month int) bool {
	m, ok := c.EidAlAdhaMonth[year]
	return ok && m == month
}

// IsWinter reports whether the month is a winter month.
func (c *CalendarTable) IsWinter(month int) bool {
	return containsMonth(c.WinterMonths, month)
}

// IsSummer reports whether the month is a summer month.
func (c *CalendarTable) IsSummer(month int) bool {
	return containsMonth(c.SummerMonths, month)
}

// IsSchoolSeason reports whether the month falls in the school year.
func (c *CalendarTable) IsSchoolSeason(month int) bool {
	return containsMonth(c.SchoolMonths, month)
}

func containsMonth(months []int, m int) bool {
	for _, v := range months {
		if v == m {
			return true
		}
	}
	return false
}
