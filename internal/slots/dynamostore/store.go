package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/multierr"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/outbox"
	"github.com/lamcatuk/vy-numbers/pkg/pagination"
)

const (
	attrNum            = "num"
	attrStatus         = "status"
	attrReservedBy     = "reserved_by"
	attrReserveExpires = "reserve_expires"
	attrOrderID        = "order_id"
	attrUserID         = "user_id"
	attrTxnRef         = "txn_ref"
	attrUpdatedAt      = "updated_at"
	attrPasswordHash   = "password_hash"

	batchWriteLimit   = 25
	batchWriteRetries = 5
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// slotItem is the stored shape of a slot. reserve_expires is unix
// milliseconds so the sweep condition compares numbers.
type slotItem struct {
	Num            string  `dynamodbav:"num"`
	Status         string  `dynamodbav:"status"`
	ReservedBy     *string `dynamodbav:"reserved_by,omitempty"`
	ReserveExpires *int64  `dynamodbav:"reserve_expires,omitempty"`
	OrderID        *string `dynamodbav:"order_id,omitempty"`
	UserID         *string `dynamodbav:"user_id,omitempty"`
	TxnRef         *string `dynamodbav:"txn_ref,omitempty"`
	UpdatedAt      string  `dynamodbav:"updated_at"`
	models.SlotAttributes
}

// eventItem mirrors outbox_events for the events table.
type eventItem struct {
	ID            string `dynamodbav:"id"`
	EventType     string `dynamodbav:"event_type"`
	AggregateType string `dynamodbav:"aggregate_type"`
	AggregateID   string `dynamodbav:"aggregate_id"`
	Payload       string `dynamodbav:"payload"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// Params configures a Store.
type Params struct {
	SlotsTable  string
	EventsTable string
	Range       slots.Range
	PageSize    int
	Logger      *logger.Logger
}

// Store implements slots.Store on a DynamoDB table keyed by num.
type Store struct {
	client      API
	slotsTable  string
	eventsTable string
	idRange     slots.Range
	pageSize    int
	logg        *logger.Logger
	now         func() time.Time
}

var _ slots.Store = (*Store)(nil)

// NewClient builds a DynamoDB client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg config.DynamoConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func New(client API, p Params) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if p.SlotsTable == "" {
		return nil, errors.New("slots table is required")
	}
	if p.Range == (slots.Range{}) {
		p.Range = slots.DefaultRange()
	}
	if err := p.Range.Validate(); err != nil {
		return nil, err
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Store{
		client:      client,
		slotsTable:  p.SlotsTable,
		eventsTable: p.EventsTable,
		idRange:     p.Range,
		pageSize:    p.PageSize,
		logg:        p.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrNum: &types.AttributeValueMemberS{Value: id}}
}

func (s *Store) Get(ctx context.Context, id string) (*models.Slot, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.slotsTable),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get slot %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, slots.ErrNotFound
	}
	var item slotItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal slot %s: %w", id, err)
	}
	slot := item.toModel()
	return &slot, nil
}

// Ping reads the lowest slot to prove the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.slotsTable),
		Key:                  s.key(slots.FormatID(s.idRange.Min)),
		ProjectionExpression: aws.String(attrNum),
	})
	if err != nil {
		return fmt.Errorf("ping %s: %w", s.slotsTable, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, slots.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, id string, expected []enums.SlotStatus, change slots.Change) (int64, error) {
	if len(expected) == 0 {
		return 0, errors.New("expected statuses are required")
	}
	if !change.Status.IsValid() {
		return 0, fmt.Errorf("invalid target status %q", change.Status)
	}

	ex := newExpression()
	ex.where("attribute_exists(" + ex.name(attrNum) + ")")
	ex.where(ex.statusIn(statusStrings(expected)))
	if change.RequireReservedBy != "" {
		ex.where(ex.name(attrReservedBy) + " = " + ex.value(&types.AttributeValueMemberS{Value: change.RequireReservedBy}))
	}
	ex.setString(attrStatus, change.Status.String())
	ex.setString(attrUpdatedAt, s.now().Format(time.RFC3339Nano))
	ex.setOrRemove(attrReservedBy, change.ReservedBy)
	if change.ReserveExpires != nil {
		ex.set(attrReserveExpires, millis(*change.ReserveExpires))
	} else {
		ex.remove(attrReserveExpires)
	}
	if change.Refs != nil {
		ex.setOrRemove(attrOrderID, change.Refs.OrderRef)
		ex.setOrRemove(attrUserID, change.Refs.OwnerRef)
		ex.setOrRemove(attrTxnRef, change.Refs.TransactionRef)
	}

	if change.Event == nil {
		return s.updateItem(ctx, id, ex)
	}
	return s.updateWithEvent(ctx, id, ex, *change.Event)
}

func (s *Store) updateItem(ctx context.Context, id string, ex *expression) (int64, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.slotsTable),
		Key:                       s.key(id),
		UpdateExpression:          ex.update(),
		ConditionExpression:       ex.condition(),
		ExpressionAttributeNames:  ex.names,
		ExpressionAttributeValues: ex.attributeValues(),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return 0, nil
		}
		return 0, fmt.Errorf("update slot %s: %w", id, err)
	}
	return 1, nil
}

func (s *Store) updateWithEvent(ctx context.Context, id string, ex *expression, event outbox.DomainEvent) (int64, error) {
	if s.eventsTable == "" {
		return 0, errors.New("events table is not configured")
	}
	eventID, payload, err := outbox.Encode(event)
	if err != nil {
		return 0, err
	}
	eventAV, err := attributevalue.MarshalMap(eventItem{
		ID:            eventID.String(),
		EventType:     string(event.EventType),
		AggregateType: string(event.AggregateType),
		AggregateID:   event.AggregateID,
		Payload:       string(payload),
		CreatedAt:     s.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                 aws.String(s.slotsTable),
					Key:                       s.key(id),
					UpdateExpression:          ex.update(),
					ConditionExpression:       ex.condition(),
					ExpressionAttributeNames:  ex.names,
					ExpressionAttributeValues: ex.attributeValues(),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(s.eventsTable),
					Item:                eventAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && slotConditionFailed(canceled) {
			return 0, nil
		}
		return 0, fmt.Errorf("update slot %s with event: %w", id, err)
	}
	return 1, nil
}

// slotConditionFailed reports whether the slot update, always the first item,
// was the one rejected.
func slotConditionFailed(err *types.TransactionCanceledException) bool {
	if len(err.CancellationReasons) == 0 {
		return false
	}
	code := aws.ToString(err.CancellationReasons[0].Code)
	return code == "ConditionalCheckFailed"
}

func (s *Store) scanAll(ctx context.Context, input *dynamodb.ScanInput) ([]slotItem, error) {
	input.TableName = aws.String(s.slotsTable)
	input.ConsistentRead = aws.Bool(true)
	paginator := dynamodb.NewScanPaginator(s.client, input)

	var items []slotItem
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan slots: %w", err)
		}
		var batch []slotItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal slots: %w", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

// List scans the table and pages in memory. The id space is small enough
// that a full scan stays cheap.
func (s *Store) List(ctx context.Context, params slots.ListParams) (*slots.ListResult, error) {
	page := params.Page.Normalize(s.pageSize)
	items, err := s.scanAll(ctx, &dynamodb.ScanInput{})
	if err != nil {
		return nil, err
	}

	search := strings.TrimSpace(params.Search)
	filtered := make([]models.Slot, 0, len(items))
	for _, item := range items {
		if params.Status != "" && item.Status != params.Status.String() {
			continue
		}
		if search != "" && !strings.Contains(item.Num, search) {
			continue
		}
		filtered = append(filtered, item.toModel())
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Num < filtered[j].Num })

	total := int64(len(filtered))
	start := page.Offset()
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + page.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	return &slots.ListResult{
		Slots: filtered[start:end],
		Page:  pagination.NewPage(page, total),
	}, nil
}

// SweepExpired finds lapsed reservations with a scan and releases each with
// its own conditional update, because DynamoDB has no set-based update. The
// condition re-checks the expiry so a slot finalized after the scan stays sold.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now()
	nowAV := millis(now)

	scan := newExpression()
	scan.where(scan.name(attrStatus) + " = " + scan.value(&types.AttributeValueMemberS{Value: enums.SlotStatusReserved.String()}))
	scan.where(scan.name(attrReserveExpires) + " < " + scan.value(nowAV))
	items, err := s.scanAll(ctx, &dynamodb.ScanInput{
		FilterExpression:          scan.condition(),
		ExpressionAttributeNames:  scan.names,
		ExpressionAttributeValues: scan.attributeValues(),
	})
	if err != nil {
		return 0, err
	}

	var (
		released int64
		errs     error
	)
	for _, item := range items {
		ex := newExpression()
		ex.where(ex.name(attrStatus) + " = " + ex.value(&types.AttributeValueMemberS{Value: enums.SlotStatusReserved.String()}))
		ex.where(ex.name(attrReserveExpires) + " < " + ex.value(nowAV))
		ex.setString(attrStatus, enums.SlotStatusAvailable.String())
		ex.setString(attrUpdatedAt, now.Format(time.RFC3339Nano))
		ex.remove(attrReservedBy)
		ex.remove(attrReserveExpires)

		n, err := s.updateItem(ctx, item.Num, ex)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		released += n
	}
	if errs != nil {
		s.logg.Error(ctx, "sweep partially failed", errs)
	}
	return released, errs
}

// ResetAll overwrites every id in 0001-9999 with a fresh available item,
// whatever the sellable range.
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	now := s.now().Format(time.RFC3339Nano)
	requests := make([]types.WriteRequest, 0, batchWriteLimit)
	var written int64

	flush := func() error {
		if len(requests) == 0 {
			return nil
		}
		pending := map[string][]types.WriteRequest{s.slotsTable: requests}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt >= batchWriteRetries {
				return fmt.Errorf("reset slots: unprocessed items after %d attempts", attempt)
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("reset slots: %w", err)
			}
			pending = out.UnprocessedItems
		}
		written += int64(len(requests))
		requests = make([]types.WriteRequest, 0, batchWriteLimit)
		return nil
	}

	for n := slots.MinID; n <= slots.MaxID; n++ {
		item, err := attributevalue.MarshalMap(slotItem{
			Num:       slots.FormatID(n),
			Status:    enums.SlotStatusAvailable.String(),
			UpdatedAt: now,
		})
		if err != nil {
			return written, fmt.Errorf("marshal slot: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		if len(requests) == batchWriteLimit {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

func (s *Store) ImportRecords(ctx context.Context, records []slots.ImportRecord) (*slots.ImportResult, error) {
	out := &slots.ImportResult{}
	for _, rec := range records {
		ex := newExpression()
		available := ex.value(&types.AttributeValueMemberS{Value: enums.SlotStatusAvailable.String()})
		reserved := ex.value(&types.AttributeValueMemberS{Value: enums.SlotStatusReserved.String()})
		status := ex.name(attrStatus)
		ex.where("attribute_exists(" + ex.name(attrNum) + ")")
		ex.where("(" + status + " = " + available + " OR (" + status + " = " + reserved +
			" AND attribute_not_exists(" + ex.name(attrReservedBy) + ")))")
		ex.set(attrStatus, &types.AttributeValueMemberS{Value: enums.SlotStatusReserved.String()})
		ex.setString(attrUpdatedAt, s.now().Format(time.RFC3339Nano))
		ex.remove(attrReservedBy)
		ex.remove(attrReserveExpires)
		ex.setString("association", rec.Association)
		ex.setString("nickname", rec.Nickname)
		ex.setString("category", rec.Category)
		ex.setString("country", rec.Country)
		ex.setString("significance", rec.Significance)

		n, err := s.updateItem(ctx, rec.ID, ex)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			out.Skipped = append(out.Skipped, rec.ID)
			continue
		}
		out.Applied++
	}
	return out, nil
}

func (s *Store) UpdateSlot(ctx context.Context, id string, edit slots.Edit) (int64, error) {
	if !edit.Status.IsValid() || !edit.Expected.IsValid() {
		return 0, errors.New("edit requires valid expected and target statuses")
	}
	ex := newExpression()
	ex.where("attribute_exists(" + ex.name(attrNum) + ")")
	ex.where(ex.name(attrStatus) + " = " + ex.value(&types.AttributeValueMemberS{Value: edit.Expected.String()}))
	ex.setString(attrStatus, edit.Status.String())
	ex.setString(attrUpdatedAt, s.now().Format(time.RFC3339Nano))
	if !edit.KeepsReservation() {
		ex.remove(attrReservedBy)
		ex.remove(attrReserveExpires)
	}
	if edit.Refs != nil {
		ex.setOrRemove(attrOrderID, edit.Refs.OrderRef)
		ex.setOrRemove(attrUserID, edit.Refs.OwnerRef)
		ex.setOrRemove(attrTxnRef, edit.Refs.TransactionRef)
	}
	if edit.Attributes != nil {
		attrs, err := attributevalue.MarshalMap(*edit.Attributes)
		if err != nil {
			return 0, fmt.Errorf("marshal attributes: %w", err)
		}
		delete(attrs, attrPasswordHash)
		for _, column := range sortedKeys(attrs) {
			ex.set(column, attrs[column])
		}
	}
	if edit.PasswordHash != nil {
		ex.setString(attrPasswordHash, *edit.PasswordHash)
	}
	return s.updateItem(ctx, id, ex)
}

func (s *Store) Counts(ctx context.Context) (map[enums.SlotStatus]int64, error) {
	ex := newExpression()
	items, err := s.scanAll(ctx, &dynamodb.ScanInput{
		ProjectionExpression:     aws.String(ex.name(attrNum) + ", " + ex.name(attrStatus)),
		ExpressionAttributeNames: ex.names,
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.SlotStatus]int64, 3)
	for _, status := range enums.SlotStatuses() {
		counts[status] = 0
	}
	for _, item := range items {
		counts[enums.SlotStatus(item.Status)]++
	}
	return counts, nil
}

func (item slotItem) toModel() models.Slot {
	slot := models.Slot{
		Num:        item.Num,
		Status:     enums.SlotStatus(item.Status),
		ReservedBy: item.ReservedBy,
		OrderID:    item.OrderID,
		UserID:     item.UserID,
		TxnRef:     item.TxnRef,
		Attributes: item.SlotAttributes,
	}
	if item.ReserveExpires != nil {
		expires := time.UnixMilli(*item.ReserveExpires).UTC()
		slot.ReserveExpires = &expires
	}
	if ts, err := time.Parse(time.RFC3339Nano, item.UpdatedAt); err == nil {
		slot.UpdatedAt = ts
	}
	return slot
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func statusStrings(statuses []enums.SlotStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.String())
	}
	return out
}

func sortedKeys(m map[string]types.AttributeValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
