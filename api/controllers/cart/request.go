package cart

type claimRequest struct {
	Number     string `json:"number" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds" validate:"omitempty,min=1,max=3600"`
}

type sessionResponse struct {
	CartToken string `json:"cart_token"`
	ExpiresAt string `json:"expires_at"`
	Issued    bool   `json:"issued"`
}

type releaseResponse struct {
	Number   string `json:"number"`
	Released bool   `json:"released"`
}
