package domain

type Borrowing struct {
	ID         int64 `json:"id" db:"id"`
	BookID     int64 `json:"book_id" db:"book_id"`
	UserID     int64 `json:"user_id" db:"user_id"`
	IsReturned bool  `json:"is_returned" db:"is_returned"`
}

// BorrowingDetail is a borrowing together with the rows it references.
type BorrowingDetail struct {
	Borrowing
	Book *Book `json:"book,omitempty"`
	User *User `json:"user,omitempty"`
}
