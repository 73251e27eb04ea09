package constants

// Static route constants
const (
	APIRoute    = "/api"
	APIv1Route  = "/v1"
	ResumeRoute = "/resume"
)
