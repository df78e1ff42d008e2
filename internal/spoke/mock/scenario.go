package mock

import (
	"fmt"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
)

// Conversations describes the fixture seeded by SeedConversations.
type Conversations struct {
	OrganizationID     int64
	CampaignID         int64
	UserID             int64
	UserCell           string
	CampaignContactIDs []int64
	Cells              []string
	AssignmentIDs      []int64
	// Delivered outbound, errored outbound and inbound message ids, per campaign contact.
	OutboundIDs []int64
	ErroredIDs  []int64
	InboundIDs  []int64
}

// SeedConversations seeds one active campaign with two questions and three
// campaign contacts. Each contact gets a delivered outbound message (id n),
// an errored outbound message (id n+3), an inbound reply (id n+6) and three
// answers: yes to voting_intention, no and maybe to favorite_party.
func SeedConversations(f *FakeClient, at time.Time) Conversations {
	var c Conversations
	f.mu.Lock()
	c.OrganizationID = f.id(0)
	f.mu.Unlock()
	c.CampaignID = f.AddCampaign(spoke.Campaign{OrganizationID: c.OrganizationID, Title: "Test", IsStarted: true, CreatedAt: at})
	c.UserCell = "+61411222333"
	c.UserID = f.AddUser(spoke.User{FirstName: "Super", LastName: "Vollie", Cell: c.UserCell})

	votingIntention := f.AddInteractionStep(spoke.InteractionStep{CampaignID: c.CampaignID, Question: "voting_intention"})
	favoriteParty := f.AddInteractionStep(spoke.InteractionStep{CampaignID: c.CampaignID, Question: "favorite_party"})

	for n := int64(1); n <= 3; n++ {
		cell := fmt.Sprintf("+6142770040%d", n)
		ccID := f.AddCampaignContact(spoke.CampaignContact{
			CampaignID: c.CampaignID,
			FirstName:  fmt.Sprintf("Bob%d", n),
			Cell:       cell,
			CreatedAt:  at,
		})
		assignmentID := f.AddAssignment(spoke.Assignment{CampaignID: c.CampaignID, UserID: c.UserID})

		f.AddMessage(spoke.Message{ID: n, AssignmentID: assignmentID, UserNumber: c.UserCell, ContactNumber: cell, SendStatus: "DELIVERED", CreatedAt: at})
		f.AddMessage(spoke.Message{ID: n + 3, AssignmentID: assignmentID, UserNumber: c.UserCell, ContactNumber: cell, SendStatus: spoke.SendStatusError, CreatedAt: at})
		f.AddMessage(spoke.Message{ID: n + 6, AssignmentID: assignmentID, UserNumber: c.UserCell, ContactNumber: cell, IsFromContact: true, SendStatus: "DELIVERED", CreatedAt: at})

		f.AddQuestionResponse(spoke.QuestionResponse{CampaignContactID: ccID, InteractionStepID: votingIntention, Value: "yes", CreatedAt: at})
		f.AddQuestionResponse(spoke.QuestionResponse{CampaignContactID: ccID, InteractionStepID: favoriteParty, Value: "no", CreatedAt: at})
		f.AddQuestionResponse(spoke.QuestionResponse{CampaignContactID: ccID, InteractionStepID: favoriteParty, Value: "maybe", CreatedAt: at})

		c.CampaignContactIDs = append(c.CampaignContactIDs, ccID)
		c.Cells = append(c.Cells, cell)
		c.AssignmentIDs = append(c.AssignmentIDs, assignmentID)
		c.OutboundIDs = append(c.OutboundIDs, n)
		c.ErroredIDs = append(c.ErroredIDs, n+3)
		c.InboundIDs = append(c.InboundIDs, n+6)
	}
	return c
}
