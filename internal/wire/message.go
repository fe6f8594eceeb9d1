package wire

// Request command keys. The top-level request object carries exactly
// one of these.
const (
	CmdUpdate = "Update"
	CmdQuery  = "Query"
	CmdCreate = "Create"
)

// GPSReading is a raw coordinate fix submitted with an Update.
type GPSReading struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// APReading is one observed access point from a scan snapshot. Hidden
// networks report an empty SSID; only the BSSID feeds resolution.
type APReading struct {
	SSID  string `json:"ssid"`
	BSSID string `json:"bssid" validate:"required"`
}

// UpdatePayload carries either a GPS fix or an AP scan, never both.
type UpdatePayload struct {
	ID  string      `json:"id" validate:"required"`
	APs []APReading `json:"aps,omitempty" validate:"omitempty,dive"`
	GPS *GPSReading `json:"gps,omitempty"`
}

// QueryPayload selects rows by place, by username set, or (when the
// feature is enabled) everything. ID names the requester.
type QueryPayload struct {
	ID        string   `json:"id"`
	Location  *string  `json:"location,omitempty"`
	Usernames []string `json:"username,omitempty"`
	Special   *string  `json:"special,omitempty"`
}

// SpecialAll is the only accepted value for QueryPayload.Special.
const SpecialAll = "all"

// CreatePayload registers a new username. An empty user is not a shape
// error; it fails the length rule and gets a reasoned CreateError.
type CreatePayload struct {
	User string `json:"user"`
}

// QueryRow is one row of a query response. LastUpdate is epoch seconds
// rendered as a decimal string.
type QueryRow struct {
	Username   string `json:"username"`
	Location   string `json:"location"`
	LastUpdate string `json:"lastupdate"`
}

// QueryResponse is the envelope for every query answer, including the
// deliberately empty one.
type QueryResponse struct {
	Rows []QueryRow `json:"QueryResponse"`
}

// EmptyQueryResponse is what parse and authorization failures look like
// to a querying client.
func EmptyQueryResponse() *QueryResponse {
	return &QueryResponse{Rows: []QueryRow{}}
}

// CreateResult holds either a minted id or a rejection reason.
type CreateResult struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// CreateResponse is the envelope for create answers.
type CreateResponse struct {
	Create CreateResult `json:"CreateResponse"`
}

func CreateOK(id string) *CreateResponse {
	return &CreateResponse{Create: CreateResult{ID: id}}
}

func CreateError(reason string) *CreateResponse {
	return &CreateResponse{Create: CreateResult{Error: reason}}
}
