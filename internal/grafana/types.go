package grafana

// Wire types for the dashboard HTTP API. Only the fields the publisher
// reads or writes are modeled.

type gridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

type datasourceRef struct {
	UID  string `json:"uid"`
	Type string `json:"type"`
}

type target struct {
	Datasource datasourceRef `json:"datasource"`
	Format     string        `json:"format"`
	RawQuery   bool          `json:"rawQuery"`
	RawSQL     string        `json:"rawSql"`
	RefID      string        `json:"refId"`
}

type dashboardPanel struct {
	ID          int            `json:"id"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	GridPos     gridPos        `json:"gridPos"`
	Datasource  datasourceRef  `json:"datasource"`
	Targets     []target       `json:"targets"`
	FieldConfig map[string]any `json:"fieldConfig,omitempty"`
	Options     map[string]any `json:"options,omitempty"`
}

type dashboard struct {
	UID           string           `json:"uid,omitempty"`
	ID            *int64           `json:"id"`
	Title         string           `json:"title"`
	Tags          []string         `json:"tags,omitempty"`
	Timezone      string           `json:"timezone,omitempty"`
	Panels        []dashboardPanel `json:"panels"`
	Time          map[string]any   `json:"time,omitempty"`
	Refresh       string           `json:"refresh,omitempty"`
	SchemaVersion int              `json:"schemaVersion"`
	Version       int64            `json:"version,omitempty"`
}

type upsertRequest struct {
	Dashboard dashboard `json:"dashboard"`
	FolderID  int       `json:"folderId"`
	Overwrite bool      `json:"overwrite"`
	Message   string    `json:"message,omitempty"`
}

type upsertResponse struct {
	ID     int64  `json:"id"`
	UID    string `json:"uid"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type getDashboardResponse struct {
	Dashboard dashboard `json:"dashboard"`
	Meta      struct {
		URL string `json:"url"`
	} `json:"meta"`
}
