package http

// AuthorizeRequest is the JSON shape of the internal gRPC Authorize call.
type AuthorizeRequest struct {
	AccessToken string   `json:"access_token"`
	Public      bool     `json:"public"`
	Roles       []string `json:"roles"`
}
