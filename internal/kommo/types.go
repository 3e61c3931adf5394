package kommo

// Contact is the subset of a Kommo contact the relay reads.
type Contact struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Embedded struct {
		Leads []entityRef `json:"leads"`
	} `json:"_embedded"`
}

type contactsResponse struct {
	Embedded struct {
		Contacts []Contact `json:"contacts"`
	} `json:"_embedded"`
}

type leadsResponse struct {
	Embedded struct {
		Leads []entityRef `json:"leads"`
	} `json:"_embedded"`
}

type entityRef struct {
	ID int64 `json:"id"`
}

type complexLead struct {
	Name     string              `json:"name"`
	Embedded complexLeadEmbedded `json:"_embedded"`
}

type complexLeadEmbedded struct {
	Contacts []complexContact `json:"contacts"`
}

type complexContact struct {
	Name               string        `json:"name"`
	CustomFieldsValues []customField `json:"custom_fields_values"`
}

type customField struct {
	FieldCode string             `json:"field_code"`
	Values    []customFieldValue `json:"values"`
}

type customFieldValue struct {
	Value    string `json:"value"`
	EnumCode string `json:"enum_code,omitempty"`
}

type complexResult struct {
	ID        int64 `json:"id"`
	ContactID int64 `json:"contact_id"`
}

type newLead struct {
	Name     string           `json:"name"`
	Embedded *newLeadEmbedded `json:"_embedded,omitempty"`
}

type newLeadEmbedded struct {
	Contacts []entityRef `json:"contacts"`
}

type leadStatusPatch struct {
	ID       int64 `json:"id"`
	StatusID int64 `json:"status_id"`
}

type leadNote struct {
	EntityID int64      `json:"entity_id"`
	NoteType string     `json:"note_type"`
	Params   noteParams `json:"params"`
}

type noteParams struct {
	Text string `json:"text"`
}
