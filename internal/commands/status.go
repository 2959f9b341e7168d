package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"conserv/internal/config"
	"conserv/internal/models"
)

type sessionStatus struct {
	IsAuthenticated bool              `json:"isAuthenticated"`
	User            *models.User      `json:"user"`
	IsLoading       bool              `json:"isLoading"`
	Error           *models.ErrorInfo `json:"error"`
}

// Status asks a running bridge for its session and prints it to out.
func Status(cfg *config.Config, out io.Writer) error {
	url := fmt.Sprintf("http://%s/api/session", cfg.BridgeAddr)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to call bridge: %w. Is it running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to read session (Status: %d): %s", resp.StatusCode, string(body))
	}

	var st sessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case st.IsLoading:
		fmt.Fprintln(out, "Session:  resolving")
	case !st.IsAuthenticated:
		fmt.Fprintln(out, "Session:  signed out")
	case st.User == nil:
		fmt.Fprintln(out, "Session:  signed in, profile loading")
	default:
		fmt.Fprintf(out, "Session:  signed in\n")
		fmt.Fprintf(out, "User:     %s <%s>\n", st.User.Name, st.User.Email)
		fmt.Fprintf(out, "Role:     %s\n", st.User.Role)
	}
	if st.Error != nil {
		fmt.Fprintf(out, "Error:    %s: %s\n", st.Error.Kind, st.Error.Message)
	}
	return nil
}
