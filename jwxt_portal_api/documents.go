package jwxt_portal_api

import (
	"context"

	"github.com/tidwall/gjson"
)

const documentListEndpoint = "xszy/doclist.do"

// DocumentInfo describes one downloadable course document as reported by
// the portal's document-list endpoint.
type DocumentInfo struct {
	ID       string
	CourseID string
	Title    string
	FileName string
	URL      string
	Size     int64
}

// ListCourseDocuments retrieves the downloadable documents of one course.
// Parameters:
//   - courseID: The portal's identifier for the course
//
// Returns:
//   - []DocumentInfo: One entry per document, in portal order
//   - error: NotAuthenticatedError, SessionExpiredError, or
//     RequestFailedError per the FetchJSON classification rules
func (s *PortalSession) ListCourseDocuments(ctx context.Context, courseID string) ([]DocumentInfo, error) {
	payload, err := s.FetchJSON(ctx, documentListEndpoint, map[string]string{
		"method":   "list",
		"courseId": courseID,
	})
	if err != nil {
		return nil, err
	}

	var docs []DocumentInfo
	payload.Get("documents").ForEach(func(_, item gjson.Result) bool {
		docs = append(docs, DocumentInfo{
			ID:       item.Get("id").String(),
			CourseID: courseID,
			Title:    item.Get("title").String(),
			FileName: item.Get("fileName").String(),
			URL:      item.Get("url").String(),
			Size:     item.Get("size").Int(),
		})
		return true
	})
	return docs, nil
}
