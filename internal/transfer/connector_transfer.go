package transfer

type ConnectorPublishRequest struct {
	PostID        string `json:"post_id"`
	WorkspaceID   string `json:"workspace_id"`
	Platform      string `json:"platform"`
	ContentFormat string `json:"content_format"`
	MediaRef      string `json:"media_ref"`
	Caption       string `json:"caption"`
}

type ConnectorPublishResponse struct {
	ExternalPostID string `json:"external_post_id"`
}

// ConnectorErrorResponse mirrors the Graph API error envelope the connectors pass through.
type ConnectorErrorResponse struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}
