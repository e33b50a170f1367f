package notify

import (
	"encoding/json"

	"HDProject/logger"
	"HDProject/service/natsx"
	"HDProject/service/ws"

	"golang.org/x/net/context"
)

// SubjectUserNotify 用户提醒总线 subject
const SubjectUserNotify = "helpdesk.notify.user"

// UserNotice 总线消息体
type UserNotice struct {
	UserID  string `json:"user_id"`
	Payload string `json:"payload"`
}

// Bus 把 NATS 上的用户提醒投递到本节点在线连接
type Bus struct {
	prod *natsx.Producer
}

func NewBus(client *natsx.Client) *Bus {
	return &Bus{prod: natsx.NewProducer(client)}
}

// Publish 发布一条用户提醒
func (b *Bus) Publish(userID, payload string) error {
	data, err := json.Marshal(UserNotice{UserID: userID, Payload: payload})
	if err != nil {
		return err
	}
	return b.prod.Publish(SubjectUserNotify, data, nil)
}

// StartConsumer 订阅总线，提醒转投给网关的在线 user 通道
func StartConsumer(client *natsx.Client, srv *ws.Server) error {
	consumer := natsx.NewConsumer(client)
	return consumer.Subscribe(SubjectUserNotify, "", func(ctx context.Context, msg natsx.Message) error {
		var n UserNotice
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			logger.Infof("[notify] bad notice payload err=%v", err)
			return nil
		}
		if n.UserID == "" {
			return nil
		}
		srv.NotifyUser(n.UserID, n.Payload)
		return nil
	})
}
