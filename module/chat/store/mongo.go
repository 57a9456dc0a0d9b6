package store

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fellowchat/module/chat/model"
)

// mongoDB is the production DB. The message append and its conversation
// side effects run in one mongo transaction so partial application is never
// observable; the unique indexes double as the race backstop.
type mongoDB struct {
	db   *mongo.Database
	conv *mongo.Collection
	msg  *mongo.Collection
}

func NewMongoDB(db *mongo.Database) DB {
	return &mongoDB{
		db:   db,
		conv: db.Collection(model.ConvCollection),
		msg:  db.Collection(model.MsgCollection),
	}
}

// EnsureIndexes creates the uniqueness and sweep indexes. Call once at
// startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	msg := db.Collection(model.MsgCollection)
	_, err := msg.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: model.MsgFieldConversationID, Value: 1}, {Key: model.MsgFieldSeq, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_seq"),
		},
		{
			Keys: bson.D{
				{Key: model.MsgFieldConversationID, Value: 1},
				{Key: model.MsgFieldSenderID, Value: 1},
				{Key: model.MsgFieldClientMsgID, Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("uniq_client_msg_id").
				SetPartialFilterExpression(bson.M{model.MsgFieldClientMsgID: bson.M{"$gt": ""}}),
		},
		{
			Keys:    bson.D{{Key: model.MsgFieldExpiresAt, Value: 1}},
			Options: options.Index().SetName("idx_expires_at"),
		},
	})
	if err != nil {
		return errors.Wrap(err, "ensure message indexes")
	}
	conv := db.Collection(model.ConvCollection)
	_, err = conv.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: model.ConvFieldParticipantIDs, Value: 1}, {Key: model.ConvFieldUpdatedAt, Value: -1}},
		Options: options.Index().SetName("idx_participant_updated"),
	})
	return errors.Wrap(err, "ensure conversation indexes")
}

func (s *mongoDB) GetOrCreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	_, err := s.conv.InsertOne(ctx, conv)
	if err == nil {
		return conv, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, errors.Wrap(err, "insert conversation")
	}
	// Lost the creation race (or the conversation predates this call):
	// return the winner's document.
	existing, gerr := s.GetConversation(ctx, conv.ConversationID)
	if gerr != nil {
		return nil, false, gerr
	}
	return existing, false, nil
}

func (s *mongoDB) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	err := s.conv.FindOne(ctx, bson.M{model.ConvFieldID: id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, ErrConvNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find conversation")
	}
	return &out, nil
}

func (s *mongoDB) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	cur, err := s.conv.Find(ctx,
		bson.M{model.ConvFieldParticipantIDs: userID},
		options.Find().SetSort(bson.M{model.ConvFieldUpdatedAt: -1}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*model.Conversation
	for cur.Next(ctx) {
		var c model.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, errors.Wrap(err, "decode conversation")
		}
		out = append(out, &c)
	}
	return out, errors.Wrap(cur.Err(), "cursor")
}

func (s *mongoDB) UpdateStatus(ctx context.Context, id, next string) error {
	res, err := s.conv.UpdateOne(ctx,
		bson.M{model.ConvFieldID: id, model.ConvFieldStatus: model.StatusPending},
		bson.M{"$set": bson.M{
			model.ConvFieldStatus:    next,
			model.ConvFieldUpdatedAt: time.Now().UnixMilli(),
		}},
	)
	if err != nil {
		return errors.Wrap(err, "update status")
	}
	if res.MatchedCount > 0 {
		return nil
	}
	existing, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == next {
		return nil // already there: idempotent
	}
	return ErrStatusTerminal
}

func (s *mongoDB) InsertMessage(ctx context.Context, msg *model.Message, countPending bool) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		var conv model.Conversation
		if err := s.conv.FindOne(sc, bson.M{model.ConvFieldID: msg.ConversationID}).Decode(&conv); err != nil {
			if err == mongo.ErrNoDocuments {
				return nil, ErrConvNotFound
			}
			return nil, errors.Wrap(err, "load conversation")
		}

		if _, err := s.msg.InsertOne(sc, msg); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				if strings.Contains(err.Error(), "uniq_client_msg_id") {
					return nil, ErrUniqueClientMsgID
				}
				return nil, ErrUniqueSeq
			}
			return nil, errors.Wrap(err, "insert message")
		}

		inc := bson.M{}
		if countPending {
			inc[model.ConvFieldMessageCounts+"."+msg.SenderID] = 1
		}
		for _, p := range conv.Others(msg.SenderID) {
			inc[model.ConvFieldUnreadCounts+"."+p] = 1
		}
		update := bson.M{
			"$set": bson.M{
				model.ConvFieldLastMessage: model.LastMessage{
					ServerMsgID: msg.ServerMsgID,
					SenderID:    msg.SenderID,
					Content:     msg.Content,
					Seq:         msg.Seq,
					SentAt:      msg.CreatedAt,
				},
				model.ConvFieldUpdatedAt: time.Now().UnixMilli(),
			},
			"$max": bson.M{model.ConvFieldMaxSeq: msg.Seq},
		}
		if len(inc) > 0 {
			update["$inc"] = inc
		}
		if _, err := s.conv.UpdateOne(sc, bson.M{model.ConvFieldID: msg.ConversationID}, update); err != nil {
			return nil, errors.Wrap(err, "apply send effects")
		}
		return nil, nil
	})
	return err
}

func (s *mongoDB) FindByClientMsgID(ctx context.Context, convID, senderID, clientMsgID string) (*model.Message, error) {
	var out model.Message
	err := s.msg.FindOne(ctx, bson.M{
		model.MsgFieldConversationID: convID,
		model.MsgFieldSenderID:       senderID,
		model.MsgFieldClientMsgID:    clientMsgID,
	}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMsgNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find by client msg id")
	}
	return &out, nil
}

func (s *mongoDB) GetMessage(ctx context.Context, convID, serverMsgID string) (*model.Message, error) {
	var out model.Message
	err := s.msg.FindOne(ctx, bson.M{
		model.MsgFieldConversationID: convID,
		model.MsgFieldServerMsgID:    serverMsgID,
	}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMsgNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find message")
	}
	return &out, nil
}

func (s *mongoDB) ListMessages(ctx context.Context, convID string, afterSeq int64, limit int) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.M{model.MsgFieldSeq: 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.msg.Find(ctx, bson.M{
		model.MsgFieldConversationID: convID,
		model.MsgFieldSeq:            bson.M{"$gt": afterSeq},
	}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*model.Message
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "decode message")
		}
		out = append(out, &m)
	}
	return out, errors.Wrap(cur.Err(), "cursor")
}

func (s *mongoDB) MarkDelivered(ctx context.Context, convID, serverMsgID string) (bool, error) {
	res, err := s.msg.UpdateOne(ctx,
		bson.M{
			model.MsgFieldConversationID: convID,
			model.MsgFieldServerMsgID:    serverMsgID,
			model.MsgFieldState:          model.MsgStateSent, // 只前进，不回退
		},
		bson.M{"$set": bson.M{model.MsgFieldState: model.MsgStateDelivered}},
	)
	if err != nil {
		return false, errors.Wrap(err, "mark delivered")
	}
	if res.MatchedCount == 0 {
		// Either unknown or already past delivered; distinguish for callers.
		if _, gerr := s.GetMessage(ctx, convID, serverMsgID); gerr != nil {
			return false, gerr
		}
		return false, nil
	}
	return true, nil
}

func (s *mongoDB) MarkRead(ctx context.Context, convID, readerID string) (int64, error) {
	conv, err := s.GetConversation(ctx, convID)
	if err != nil {
		return 0, err
	}
	_, err = s.msg.UpdateMany(ctx,
		bson.M{
			model.MsgFieldConversationID: convID,
			model.MsgFieldSenderID:       bson.M{"$ne": readerID},
			model.MsgFieldState:          bson.M{"$in": []int32{model.MsgStateSent, model.MsgStateDelivered}},
		},
		bson.M{"$set": bson.M{model.MsgFieldState: model.MsgStateRead}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "mark read")
	}
	_, err = s.conv.UpdateOne(ctx,
		bson.M{model.ConvFieldID: convID},
		bson.M{"$set": bson.M{
			model.ConvFieldUnreadCounts + "." + readerID: 0,
			model.ConvFieldUpdatedAt:                     time.Now().UnixMilli(),
		}},
	)
	if err != nil {
		return 0, errors.Wrap(err, "zero unread")
	}
	return conv.MaxSeq, nil
}

func (s *mongoDB) Tombstone(ctx context.Context, convID, serverMsgID string) (bool, error) {
	res, err := s.msg.UpdateOne(ctx,
		bson.M{
			model.MsgFieldConversationID: convID,
			model.MsgFieldServerMsgID:    serverMsgID,
			model.MsgFieldDeleted:        false,
		},
		bson.M{
			"$set": bson.M{
				model.MsgFieldDeleted: true,
				model.MsgFieldContent: "",
			},
			"$unset": bson.M{
				model.MsgFieldMentions:     "",
				model.MsgFieldLinkPreviews: "",
			},
		},
	)
	if err != nil {
		return false, errors.Wrap(err, "tombstone")
	}
	if res.MatchedCount == 0 {
		if _, gerr := s.GetMessage(ctx, convID, serverMsgID); gerr != nil {
			return false, gerr
		}
		return false, nil // already a tombstone: converge to success
	}
	return true, nil
}

func (s *mongoDB) ExpiredMessages(ctx context.Context, nowMS int64, limit int) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.M{model.MsgFieldExpiresAt: 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.msg.Find(ctx, bson.M{
		model.MsgFieldDeleted:   false,
		model.MsgFieldExpiresAt: bson.M{"$gt": 0, "$lte": nowMS},
	}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find expired")
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*model.Message
	for cur.Next(ctx) {
		var m model.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errors.Wrap(err, "decode message")
		}
		out = append(out, &m)
	}
	return out, errors.Wrap(cur.Err(), "cursor")
}

func (s *mongoDB) SetLinkPreviews(ctx context.Context, convID, serverMsgID string, previews []model.LinkPreview) error {
	_, err := s.msg.UpdateOne(ctx,
		bson.M{
			model.MsgFieldConversationID: convID,
			model.MsgFieldServerMsgID:    serverMsgID,
			model.MsgFieldDeleted:        false,
		},
		bson.M{"$set": bson.M{model.MsgFieldLinkPreviews: previews}},
	)
	return errors.Wrap(err, "set link previews")
}
