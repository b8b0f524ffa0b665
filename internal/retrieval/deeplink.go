package retrieval

import (
	"fmt"
	"strconv"
	"strings"
)

// DeepLink synthesizes the t.me URL for one message. Channel and supergroup
// chat ids carry a -100 prefix that the /c/ form drops.
func DeepLink(chatID, msgID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, "-100") && len(s) > 4 {
		s = s[4:]
	} else if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	return fmt.Sprintf("https://t.me/c/%s/%d", s, msgID)
}
