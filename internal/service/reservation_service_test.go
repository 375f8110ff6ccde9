package service

import (
	"context"
	"testing"
	"time"

	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRepos() (Repositories, *mockAuditRepository) {
	audit := &mockAuditRepository{}
	return Repositories{
		Tickets:      &mockTicketRepository{},
		Reservations: &mockReservationRepository{},
		Events:       &mockEventRepository{},
		Tokens:       &mockAccessTokenRepository{},
		Promos:       &mockPromoCodeRepository{},
		Addons:       &mockAddonRepository{},
		Billing:      &mockBillingRepository{},
		Audit:        audit,
		Groups:       &mockGroupRepository{},
	}, audit
}

func testEvent() *domain.Event {
	return &domain.Event{
		ID:             1,
		ShortName:      "gophercon",
		DisplayName:    "GopherCon",
		OrganizationID: 42,
		Currency:       "EUR",
		VatRateBp:      2200,
		VatStatus:      domain.VatStatusIncluded,
		EndsAt:         time.Now().Add(30 * 24 * time.Hour),
	}
}

func withEvent(repos Repositories, event *domain.Event, categories map[int64]*domain.TicketCategory) {
	events := repos.Events.(*mockEventRepository)
	events.GetByIDFunc = func(ctx context.Context, id int64) (*domain.Event, error) {
		if id == event.ID {
			return event, nil
		}
		return nil, domain.ErrEventNotFound
	}
	events.GetCategoryFunc = func(ctx context.Context, id int64) (*domain.TicketCategory, error) {
		if c, ok := categories[id]; ok {
			return c, nil
		}
		return nil, domain.ErrCategoryNotFound
	}
}

func TestCreate_AllocatesBoundedCategory(t *testing.T) {
	repos, audit := testRepos()
	withEvent(repos, testEvent(), map[int64]*domain.TicketCategory{
		10: {ID: 10, EventID: 1, Name: "Standard", Bounded: true, SrcPriceCts: 10000},
	})

	tickets := repos.Tickets.(*mockTicketRepository)
	tickets.SelectFreeInCategoryFunc = func(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
		assert.Equal(t, int64(1), eventID)
		assert.Equal(t, int64(10), categoryID)
		assert.Equal(t, 2, qty)
		return []int64{101, 102}, nil
	}

	var reservedIDs []int64
	tickets.ReserveFunc = func(ctx context.Context, ids []int64, reservationID string, categoryID int64) error {
		reservedIDs = ids
		return nil
	}

	var priced domain.PriceDetail
	tickets.UpdatePricingFunc = func(ctx context.Context, ids []int64, d domain.PriceDetail) error {
		priced = d
		return nil
	}

	var created *domain.Reservation
	repos.Reservations.(*mockReservationRepository).CreateFunc = func(ctx context.Context, r *domain.Reservation) error {
		created = r
		return nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	id, err := svc.Create(context.Background(), &CreateReservationRequest{
		EventID: 1,
		Tickets: []TicketRequest{{CategoryID: 10, Quantity: 2}},
		Locale:  "en",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []int64{101, 102}, reservedIDs)
	assert.Equal(t, int64(10000), priced.FinalPriceCts)
	assert.Equal(t, int64(1803), priced.VatCts)
	require.NotNil(t, created)
	assert.Equal(t, domain.ReservationStatusPending, created.Status)
	assert.Equal(t, domain.VatStatusIncluded, created.VatStatus)
	assert.Equal(t, 1, audit.recorded(domain.AuditReservationCreate))
}

func TestCreate_NotEnoughTickets(t *testing.T) {
	repos, _ := testRepos()
	withEvent(repos, testEvent(), map[int64]*domain.TicketCategory{
		10: {ID: 10, EventID: 1, Bounded: true, SrcPriceCts: 5000},
	})

	repos.Tickets.(*mockTicketRepository).SelectFreeInCategoryFunc = func(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
		return []int64{101}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	_, err := svc.Create(context.Background(), &CreateReservationRequest{
		EventID: 1,
		Tickets: []TicketRequest{{CategoryID: 10, Quantity: 3}},
	})

	assert.ErrorIs(t, err, domain.ErrNotEnoughTickets)
}

func TestCreate_UnboundedCategoryDrawsFromPool(t *testing.T) {
	repos, _ := testRepos()
	withEvent(repos, testEvent(), map[int64]*domain.TicketCategory{
		20: {ID: 20, EventID: 1, Bounded: false, SrcPriceCts: 3000},
	})

	poolCalled := false
	tickets := repos.Tickets.(*mockTicketRepository)
	tickets.SelectFreeFromPoolFunc = func(ctx context.Context, eventID int64, qty int) ([]int64, error) {
		poolCalled = true
		return []int64{201}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	_, err := svc.Create(context.Background(), &CreateReservationRequest{
		EventID: 1,
		Tickets: []TicketRequest{{CategoryID: 20, Quantity: 1}},
	})

	require.NoError(t, err)
	assert.True(t, poolCalled)
}

func TestCreate_RestrictedCategoryTokenFlow(t *testing.T) {
	session := "session-a"
	otherSession := "session-b"

	tests := []struct {
		name       string
		request    TicketRequest
		setupToken func(*mockAccessTokenRepository, *mockReservationRepository)
		wantErr    error
	}{
		{
			name:    "missing token code",
			request: TicketRequest{CategoryID: 30, Quantity: 1},
			wantErr: domain.ErrMissingAccessToken,
		},
		{
			name:    "more than one ticket per token",
			request: TicketRequest{CategoryID: 30, Quantity: 2, AccessTokenCode: "tok"},
			wantErr: domain.ErrInvalidQuantity,
		},
		{
			name:    "unknown token",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "nope"},
			setupToken: func(tokens *mockAccessTokenRepository, _ *mockReservationRepository) {
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return nil, domain.ErrTokenNotFound
				}
			},
			wantErr: domain.ErrInvalidAccessToken,
		},
		{
			name:    "free token binds",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "tok"},
			setupToken: func(tokens *mockAccessTokenRepository, _ *mockReservationRepository) {
				token := &domain.AccessToken{ID: 7, Code: "tok", CategoryID: 30, Status: domain.AccessTokenStatusFree}
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return token, nil
				}
				tokens.BindToSessionFunc = func(ctx context.Context, tokenID int64, sessionID string) (bool, error) {
					assert.Equal(t, session, sessionID)
					return true, nil
				}
				tokens.GetByIDFunc = func(ctx context.Context, id int64) (*domain.AccessToken, error) {
					bound := *token
					bound.Status = domain.AccessTokenStatusPending
					bound.SessionID = &session
					return &bound, nil
				}
			},
		},
		{
			name:    "pending token of the same session is reused",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "tok"},
			setupToken: func(tokens *mockAccessTokenRepository, _ *mockReservationRepository) {
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return &domain.AccessToken{ID: 7, Code: "tok", CategoryID: 30, Status: domain.AccessTokenStatusPending, SessionID: &session}, nil
				}
			},
		},
		{
			name:    "pending token held by a live session is rejected",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "tok"},
			setupToken: func(tokens *mockAccessTokenRepository, _ *mockReservationRepository) {
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return &domain.AccessToken{ID: 7, Code: "tok", CategoryID: 30, Status: domain.AccessTokenStatusPending, SessionID: &otherSession}, nil
				}
				tokens.FindPendingTicketFunc = func(ctx context.Context, tokenID int64) (*domain.Ticket, error) {
					return nil, nil
				}
			},
			wantErr: domain.ErrInvalidAccessToken,
		},
		{
			name:    "orphaned pending token recycles the competing reservation",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "tok"},
			setupToken: func(tokens *mockAccessTokenRepository, reservations *mockReservationRepository) {
				staleReservation := "stale-res"
				token := &domain.AccessToken{ID: 7, Code: "tok", CategoryID: 30, Status: domain.AccessTokenStatusPending, SessionID: &otherSession}
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return token, nil
				}
				tokens.FindPendingTicketFunc = func(ctx context.Context, tokenID int64) (*domain.Ticket, error) {
					return &domain.Ticket{ID: 900, ReservationID: &staleReservation, Status: domain.TicketStatusPending}, nil
				}
				reservations.LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
					assert.Equal(t, staleReservation, id)
					return &domain.Reservation{ID: id, Status: domain.ReservationStatusPending}, nil
				}
				tokens.BindToSessionFunc = func(ctx context.Context, tokenID int64, sessionID string) (bool, error) {
					return true, nil
				}
				tokens.GetByIDFunc = func(ctx context.Context, id int64) (*domain.AccessToken, error) {
					bound := *token
					bound.SessionID = &session
					return &bound, nil
				}
			},
		},
		{
			name:    "taken token is rejected",
			request: TicketRequest{CategoryID: 30, Quantity: 1, AccessTokenCode: "tok"},
			setupToken: func(tokens *mockAccessTokenRepository, _ *mockReservationRepository) {
				tokens.GetByCodeFunc = func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
					return &domain.AccessToken{ID: 7, Code: "tok", CategoryID: 30, Status: domain.AccessTokenStatusTaken}, nil
				}
			},
			wantErr: domain.ErrInvalidAccessToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos, _ := testRepos()
			withEvent(repos, testEvent(), map[int64]*domain.TicketCategory{
				30: {ID: 30, EventID: 1, Bounded: true, AccessRestricted: true, SrcPriceCts: 20000},
			})

			tickets := repos.Tickets.(*mockTicketRepository)
			tickets.SelectFreeInCategoryFunc = func(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
				return []int64{301}, nil
			}

			if tt.setupToken != nil {
				tt.setupToken(
					repos.Tokens.(*mockAccessTokenRepository),
					repos.Reservations.(*mockReservationRepository),
				)
			}

			svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
			_, err := svc.Create(context.Background(), &CreateReservationRequest{
				EventID:   1,
				Tickets:   []TicketRequest{tt.request},
				SessionID: session,
			})

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreate_DiscountCapCheckedAtCreation(t *testing.T) {
	repos, _ := testRepos()
	withEvent(repos, testEvent(), map[int64]*domain.TicketCategory{
		10: {ID: 10, EventID: 1, Bounded: true, SrcPriceCts: 10000},
	})

	maxUsage := 2
	promos := repos.Promos.(*mockPromoCodeRepository)
	promos.GetByCodeFunc = func(ctx context.Context, eventID int64, code string) (*domain.PromoCode, error) {
		return &domain.PromoCode{ID: 5, EventID: 1, Code: code, DiscountType: domain.DiscountTypePercentage, Amount: 10, MaxUsage: &maxUsage}, nil
	}
	promos.CountConfirmedUsageFunc = func(ctx context.Context, promoID int64, excludeReservationID string, categories []int64) (int, error) {
		return 2, nil
	}

	repos.Tickets.(*mockTicketRepository).SelectFreeInCategoryFunc = func(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
		return []int64{101}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	_, err := svc.Create(context.Background(), &CreateReservationRequest{
		EventID:   1,
		Tickets:   []TicketRequest{{CategoryID: 10, Quantity: 1}},
		PromoCode: "LAUNCH10",
	})

	assert.ErrorIs(t, err, domain.ErrDiscountUsageExceeded)
}

func TestCancel_ReleasesEverything(t *testing.T) {
	repos, audit := testRepos()
	publisher := &capturePublisher{}

	reservations := repos.Reservations.(*mockReservationRepository)
	reservations.LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{ID: id, EventID: 1, Status: domain.ReservationStatusPending}, nil
	}
	deleted := false
	reservations.DeleteFunc = func(ctx context.Context, id string) error {
		deleted = true
		return nil
	}

	tickets := repos.Tickets.(*mockTicketRepository)
	categoryID := int64(10)
	tickets.FindByReservationFunc = func(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
		return []*domain.Ticket{{ID: 101, CategoryID: &categoryID, Status: domain.TicketStatusPending}}, nil
	}
	released := false
	tickets.ReleaseByReservationFunc = func(ctx context.Context, reservationID string) (int64, error) {
		released = true
		return 1, nil
	}
	poolReset := false
	tickets.ResetCategoryForUnboundedFunc = func(ctx context.Context, reservationID string) error {
		poolReset = true
		// tickets must still be bound to the reservation at this point
		assert.False(t, released, "pool reset must run before release")
		return nil
	}

	tokensReset := false
	repos.Tokens.(*mockAccessTokenRepository).ResetByReservationFunc = func(ctx context.Context, reservationID string) (int64, error) {
		tokensReset = true
		return 1, nil
	}

	groupsReleased := false
	repos.Groups.(*mockGroupRepository).ReleaseByReservationFunc = func(ctx context.Context, reservationID string) error {
		groupsReleased = true
		return nil
	}

	addonsDeleted := false
	repos.Addons.(*mockAddonRepository).DeleteByReservationFunc = func(ctx context.Context, reservationID string) error {
		addonsDeleted = true
		return nil
	}

	billingDeleted := false
	repos.Billing.(*mockBillingRepository).DeleteByReservationFunc = func(ctx context.Context, reservationID string) error {
		billingDeleted = true
		return nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, publisher, nil, nil, nil)
	err := svc.Cancel(context.Background(), "res-1", "customer")

	require.NoError(t, err)
	assert.True(t, released)
	assert.True(t, poolReset)
	assert.True(t, tokensReset)
	assert.True(t, groupsReleased)
	assert.True(t, addonsDeleted)
	assert.True(t, billingDeleted)
	assert.True(t, deleted)
	assert.Equal(t, 1, publisher.cancelled)
	assert.Equal(t, 1, audit.recorded(domain.AuditReservationCancel))
	assert.Equal(t, 1, audit.recorded(domain.AuditAccessTokenReset))
}

func TestExpire_RejectsNonPending(t *testing.T) {
	repos, _ := testRepos()
	repos.Reservations.(*mockReservationRepository).LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{ID: id, Status: domain.ReservationStatusOfflinePayment}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	err := svc.Expire(context.Background(), "res-1")

	assert.ErrorIs(t, err, domain.ErrTransitionConflict)
}

func TestExpire_PublishesExpiredEvent(t *testing.T) {
	repos, audit := testRepos()
	publisher := &capturePublisher{}
	repos.Reservations.(*mockReservationRepository).LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{ID: id, EventID: 1, Status: domain.ReservationStatusPending}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, publisher, nil, nil, nil)
	err := svc.Expire(context.Background(), "res-1")

	require.NoError(t, err)
	assert.Equal(t, 1, publisher.expired)
	assert.Equal(t, 0, publisher.cancelled)
	assert.Equal(t, 1, audit.recorded(domain.AuditReservationExpire))
}

func TestConfirmOfflinePayment(t *testing.T) {
	repos, audit := testRepos()
	publisher := &capturePublisher{}
	mailer := &captureMailer{}
	withEvent(repos, testEvent(), nil)

	reservations := repos.Reservations.(*mockReservationRepository)
	reservations.LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{
			ID:               id,
			EventID:          1,
			Status:           domain.ReservationStatusOfflinePayment,
			CustomerName:     "Ada",
			CustomerEmail:    "ada@example.com",
			InvoiceRequested: true,
		}, nil
	}

	var invoiceNumber string
	reservations.SetInvoiceNumberFunc = func(ctx context.Context, id, number string) error {
		invoiceNumber = number
		return nil
	}

	var completedFrom domain.ReservationStatus
	reservations.CompleteFunc = func(ctx context.Context, id string, from domain.ReservationStatus, method domain.PaymentMethod, registeredAt time.Time) error {
		completedFrom = from
		assert.Equal(t, domain.PaymentMethodOffline, method)
		return nil
	}

	tickets := repos.Tickets.(*mockTicketRepository)
	categoryID := int64(10)
	tickets.FindByReservationFunc = func(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
		return []*domain.Ticket{{ID: 101, CategoryID: &categoryID, SrcPriceCts: 10000, FinalPriceCts: 10000, VatCts: 1803}}, nil
	}
	tickets.CountByReservationFunc = func(ctx context.Context, reservationID string) (int, error) {
		return 1, nil
	}
	var ticketStatus domain.TicketStatus
	tickets.UpdateStatusByReservationFunc = func(ctx context.Context, reservationID string, status domain.TicketStatus) (int64, error) {
		ticketStatus = status
		return 1, nil
	}

	repos.Billing.(*mockBillingRepository).NextInvoiceSequenceFunc = func(ctx context.Context, organizationID int64) (int64, error) {
		assert.Equal(t, int64(42), organizationID)
		return 7, nil
	}

	var doc *domain.BillingDocument
	repos.Billing.(*mockBillingRepository).InsertDocumentFunc = func(ctx context.Context, d *domain.BillingDocument) error {
		doc = d
		return nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, publisher, mailer, nil, nil)
	err := svc.ConfirmOfflinePayment(context.Background(), "res-1", "admin")

	require.NoError(t, err)
	assert.Equal(t, "gophercon/7", invoiceNumber)
	assert.Equal(t, domain.ReservationStatusOfflinePayment, completedFrom)
	assert.Equal(t, domain.TicketStatusAcquired, ticketStatus)
	require.NotNil(t, doc)
	assert.Equal(t, domain.BillingDocumentInvoice, doc.Type)
	assert.Equal(t, 1, publisher.confirmed)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ada@example.com", mailer.sent[0].To)
	assert.Equal(t, 1, audit.recorded(domain.AuditPaymentConfirmed))
	assert.Equal(t, 1, audit.recorded(domain.AuditReservationComplete))
}

func TestCredit_IssuesCreditNoteAndRetainsDocuments(t *testing.T) {
	repos, audit := testRepos()
	publisher := &capturePublisher{}
	withEvent(repos, testEvent(), nil)

	invoiceNumber := "gophercon/7"
	reservations := repos.Reservations.(*mockReservationRepository)
	reservations.LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{
			ID:            id,
			EventID:       1,
			Status:        domain.ReservationStatusOfflinePayment,
			InvoiceNumber: &invoiceNumber,
		}, nil
	}
	var transitionedTo domain.ReservationStatus
	reservations.TransitionFunc = func(ctx context.Context, id string, from, to domain.ReservationStatus) error {
		transitionedTo = to
		return nil
	}
	reservations.DeleteFunc = func(ctx context.Context, id string) error {
		t.Fatal("credited reservations must not be deleted")
		return nil
	}

	billing := repos.Billing.(*mockBillingRepository)
	billing.LatestByReservationFunc = func(ctx context.Context, reservationID string) (*domain.BillingDocument, error) {
		return &domain.BillingDocument{Number: invoiceNumber, Type: domain.BillingDocumentInvoice}, nil
	}
	var creditNote *domain.BillingDocument
	billing.InsertDocumentFunc = func(ctx context.Context, d *domain.BillingDocument) error {
		creditNote = d
		return nil
	}
	billing.DeleteByReservationFunc = func(ctx context.Context, reservationID string) error {
		t.Fatal("credit flow must not delete billing documents")
		return nil
	}

	released := false
	repos.Tickets.(*mockTicketRepository).ReleaseByReservationFunc = func(ctx context.Context, reservationID string) (int64, error) {
		released = true
		return 1, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, publisher, nil, nil, nil)
	err := svc.Credit(context.Background(), "res-1", "system")

	require.NoError(t, err)
	require.NotNil(t, creditNote)
	assert.Equal(t, domain.BillingDocumentCreditNote, creditNote.Type)
	assert.Equal(t, "gophercon/7/CN", creditNote.Number)
	assert.Equal(t, domain.ReservationStatusCreditNoteIssued, transitionedTo)
	assert.True(t, released)
	assert.Equal(t, 1, publisher.credited)
	assert.Equal(t, 1, audit.recorded(domain.AuditCreditNoteIssued))
}

func TestReleaseTicket(t *testing.T) {
	invoiceNumber := "gophercon/1"
	categoryID := int64(10)

	tests := []struct {
		name        string
		tickets     []*domain.Ticket
		invoice     *string
		wantErr     error
		wantDeleted bool
	}{
		{
			name: "releases one of several",
			tickets: []*domain.Ticket{
				{ID: 101, CategoryID: &categoryID, Status: domain.TicketStatusAcquired},
				{ID: 102, CategoryID: &categoryID, Status: domain.TicketStatusAcquired},
			},
		},
		{
			name: "last ticket drops the reservation",
			tickets: []*domain.Ticket{
				{ID: 101, CategoryID: &categoryID, Status: domain.TicketStatusAcquired},
			},
			wantDeleted: true,
		},
		{
			name: "last ticket with invoice is refused",
			tickets: []*domain.Ticket{
				{ID: 101, CategoryID: &categoryID, Status: domain.TicketStatusAcquired},
			},
			invoice: &invoiceNumber,
			wantErr: domain.ErrTransitionConflict,
		},
		{
			name: "unknown ticket",
			tickets: []*domain.Ticket{
				{ID: 999, CategoryID: &categoryID, Status: domain.TicketStatusAcquired},
			},
			wantErr: domain.ErrTicketNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repos, _ := testRepos()

			reservations := repos.Reservations.(*mockReservationRepository)
			reservations.LockForUpdateFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
				return &domain.Reservation{ID: id, EventID: 1, Status: domain.ReservationStatusComplete, InvoiceNumber: tt.invoice}, nil
			}
			deleted := false
			reservations.DeleteFunc = func(ctx context.Context, id string) error {
				deleted = true
				return nil
			}

			repos.Tickets.(*mockTicketRepository).FindByReservationFunc = func(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
				return tt.tickets, nil
			}

			svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
			err := svc.ReleaseTicket(context.Background(), "res-1", 101, "admin")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDeleted, deleted)
		})
	}
}

func TestOrderSummary_AppendsDiscountRow(t *testing.T) {
	repos, _ := testRepos()
	withEvent(repos, testEvent(), nil)

	promoID := int64(5)
	categoryID := int64(10)
	repos.Reservations.(*mockReservationRepository).GetByIDFunc = func(ctx context.Context, id string) (*domain.Reservation, error) {
		return &domain.Reservation{ID: id, EventID: 1, Status: domain.ReservationStatusPending, PromoCodeID: &promoID}, nil
	}
	repos.Promos.(*mockPromoCodeRepository).GetByIDFunc = func(ctx context.Context, id int64) (*domain.PromoCode, error) {
		return &domain.PromoCode{ID: 5, Code: "LAUNCH10", DiscountType: domain.DiscountTypePercentage, Amount: 10}, nil
	}

	tickets := repos.Tickets.(*mockTicketRepository)
	tickets.SummaryRowsFunc = func(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error) {
		return []domain.OrderSummaryRow{{Name: "Standard", Quantity: 2, UnitPriceCts: 9000, SubtotalCts: 18000, VatCts: 3246}}, nil
	}
	tickets.FindByReservationFunc = func(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
		return []*domain.Ticket{
			{ID: 101, CategoryID: &categoryID, SrcPriceCts: 10000, FinalPriceCts: 9000, VatCts: 1623, DiscountCts: 1000},
			{ID: 102, CategoryID: &categoryID, SrcPriceCts: 10000, FinalPriceCts: 9000, VatCts: 1623, DiscountCts: 1000},
		}, nil
	}

	svc := NewReservationService(&fakeTxRunner{}, repos, nil, nil, nil, nil)
	summary, err := svc.OrderSummary(context.Background(), "res-1")

	require.NoError(t, err)
	require.Len(t, summary.Rows, 2)
	discountRow := summary.Rows[1]
	assert.True(t, discountRow.Discount)
	assert.Equal(t, "LAUNCH10", discountRow.Name)
	assert.Equal(t, 2, discountRow.Quantity)
	assert.Equal(t, int64(-2000), discountRow.SubtotalCts)
	assert.Equal(t, int64(18000), summary.Total.PriceWithVATCts)
	assert.Equal(t, 2, summary.Total.DiscountAppliedCount)
}
