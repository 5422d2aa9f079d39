package model

// UserIdentity 匿名身份（持久化于单个 key，整条覆盖写）
type UserIdentity struct {
	Codename    string     `json:"codename"`
	SessionHash string     `json:"sessionHash"`
	CreatedAt   int64      `json:"createdAt"` // unix ms
	Kind        AuthorKind `json:"type"`
	Balance     int64      `json:"balance,omitempty"`
}

func (u *UserIdentity) IsBusiness() bool { return u.Kind == AuthorBusiness }
