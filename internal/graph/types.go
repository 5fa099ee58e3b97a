package graph

import "encoding/json"

// Default $select lists per resource family.
var (
	DefaultUserFields = []string{
		"businessPhones", "displayName", "givenName", "jobTitle", "mail", "mobilePhone",
		"officeLocation", "preferredLanguage", "surname", "userPrincipalName", "id",
	}

	DefaultFolderFields = []string{
		"id", "displayName", "childFolderCount", "parentFolderId", "totalItemCount", "unreadItemCount",
	}

	DefaultMessageFields = []string{
		"id", "createdDateTime", "lastModifiedDateTime", "changeKey", "categories",
		"receivedDateTime", "sentDateTime", "hasAttachments", "internetMessageId", "subject",
		"bodyPreview", "importance", "parentFolderId", "conversationId",
		"isDeliveryReceiptRequested", "isReadReceiptRequested", "isRead", "isDraft", "webLink",
		"inferenceClassification", "body", "sender", "from", "toRecipients", "ccRecipients",
		"bccRecipients", "replyTo", "flag",
	}
)

// Item is one entry from a Graph collection page. Raw is the entry exactly
// as the API returned it and is forwarded downstream unmodified; the other
// fields are read out of it for routing.
type Item struct {
	ID             string
	Removed        bool // delta tombstone (@removed annotation)
	HasAttachments bool // messages only
	Raw            json.RawMessage
}

// DeltaPage is one page of a delta query. Exactly one of NextLink
// (more pages) or DeltaLink (collection exhausted) is set on a valid page.
type DeltaPage struct {
	Items     []Item
	NextLink  string
	DeltaLink string
}

// Resource describes a delta collection: the baseline path plus the
// field selection and page size hint applied to the first request.
type Resource struct {
	Path     string
	Select   []string
	PageSize int
}
