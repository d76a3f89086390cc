package domain

type Book struct {
	ID                int64  `json:"id" db:"id"`
	Title             string `json:"title" db:"title"`
	Author            string `json:"author" db:"author"`
	Quantity          int64  `json:"quantity" db:"quantity"`
	AvailableQuantity int64  `json:"available_quantity" db:"available_quantity"`
}

// OnLoan is the number of copies currently lent out.
func (b Book) OnLoan() int64 {
	return b.Quantity - b.AvailableQuantity
}

// BookPatch carries the fields of a catalog update; nil means "leave unchanged".
type BookPatch struct {
	Title    *string
	Author   *string
	Quantity *int64
}

func (p BookPatch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.Quantity == nil
}
