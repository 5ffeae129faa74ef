// Package quota exposes per-channel upload limits to other services.
package quota

// Limits caps concurrent uploads and total stored bytes for a channel.
// Keep this small and stable: upload-service enforces these numbers.
type Limits struct {
	Plan             string `json:"plan"`
	MaxActiveUploads int32  `json:"max_active_uploads"`
	MaxUploadBytes   int64  `json:"max_upload_bytes"`
}

func LimitsForPlan(plan string) Limits {
	switch plan {
	case "creator":
		return Limits{
			Plan:             "creator",
			MaxActiveUploads: 10,
			MaxUploadBytes:   250 << 30,
		}
	case "studio":
		return Limits{
			Plan:             "studio",
			MaxActiveUploads: 50,
			MaxUploadBytes:   2 << 40,
		}
	default:
		return Limits{
			Plan:             "free",
			MaxActiveUploads: 2,
			MaxUploadBytes:   20 << 30,
		}
	}
}
