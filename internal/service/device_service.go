package service

import (
	"context"
	"encoding/base64"
	"runtime"
	"time"

	"github.com/haierkeys/vault-device-sync/internal/domain"
	"github.com/haierkeys/vault-device-sync/internal/dto"
	"github.com/haierkeys/vault-device-sync/pkg/code"
	"github.com/haierkeys/vault-device-sync/pkg/convert"
	"github.com/haierkeys/vault-device-sync/pkg/cryptobox"
	"github.com/haierkeys/vault-device-sync/pkg/logger"
	"github.com/haierkeys/vault-device-sync/pkg/util"

	"go.uber.org/zap"
)

// DeviceServiceConfig 设备服务配置
type DeviceServiceConfig struct {
	// PairToken 配对令牌，新设备必须持有并签名该令牌
	PairToken string
}

// DeviceService 定义设备注册表服务接口
// 公钥即身份：设备 ID 是签名公钥的指纹，信任关系只能通过配对建立
type DeviceService interface {
	// Provision 初始化本设备身份，已存在时幂等返回
	Provision(ctx context.Context, vaultID, displayName string) (*dto.IdentityDTO, error)

	// Identity 获取本设备身份
	Identity(ctx context.Context, vaultID string) (*domain.LocalIdentity, error)

	// Pair 配对新设备
	Pair(ctx context.Context, params *dto.DevicePairRequest) (*dto.DeviceDTO, error)

	// Revoke 吊销设备，吊销不可逆
	Revoke(ctx context.Context, vaultID, deviceID string) error

	// RotateKey 接受设备的加密密钥轮换断言
	RotateKey(ctx context.Context, params *dto.DeviceRotateKeyRequest) error

	// List 获取金库的全部已知设备
	List(ctx context.Context, vaultID string) ([]*dto.DeviceDTO, error)

	// TrustedPeers 获取可参与同步的对端设备
	TrustedPeers(ctx context.Context, vaultID string) ([]*domain.DeviceIdentity, error)

	// Get 获取单个设备
	Get(ctx context.Context, vaultID, deviceID string) (*domain.DeviceIdentity, error)
}

// deviceService 实现 DeviceService 接口
type deviceService struct {
	deviceRepo   domain.DeviceRepository
	identityRepo domain.IdentityRepository
	config       DeviceServiceConfig
	logger       *zap.Logger
}

// NewDeviceService 创建 DeviceService 实例
func NewDeviceService(deviceRepo domain.DeviceRepository, identityRepo domain.IdentityRepository, config DeviceServiceConfig, lg *zap.Logger) DeviceService {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &deviceService{
		deviceRepo:   deviceRepo,
		identityRepo: identityRepo,
		config:       config,
		logger:       lg,
	}
}

// deviceToDTO 将设备身份转换为 API 响应对象
func deviceToDTO(d *domain.DeviceIdentity) *dto.DeviceDTO {
	return convert.StructAssign(d, &dto.DeviceDTO{}).(*dto.DeviceDTO)
}

// Provision 初始化本设备身份
func (s *deviceService) Provision(ctx context.Context, vaultID, displayName string) (*dto.IdentityDTO, error) {
	existing, err := s.identityRepo.Get(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if existing != nil {
		return identityToDTO(existing), nil
	}

	boxKeys, err := cryptobox.GenerateBoxKeyPair()
	if err != nil {
		return nil, code.ErrorServerInternal.WithDetails(err.Error())
	}
	signKeys, err := cryptobox.GenerateSignKeyPair()
	if err != nil {
		return nil, code.ErrorServerInternal.WithDetails(err.Error())
	}

	if displayName == "" {
		if mid := util.GetMachineID(); len(mid) >= 8 {
			displayName = runtime.GOOS + "-" + mid[:8]
		} else {
			displayName = runtime.GOOS + "-" + util.GetRandomString(8)
		}
	}

	identity := &domain.LocalIdentity{
		VaultID:        vaultID,
		DeviceID:       cryptobox.Fingerprint(signKeys.Public),
		DisplayName:    displayName,
		Platform:       runtime.GOOS,
		BoxPublicKey:   boxKeys.Public[:],
		BoxPrivateKey:  boxKeys.Private[:],
		SignPublicKey:  signKeys.Public,
		SignPrivateKey: signKeys.Private,
	}
	saved, err := s.identityRepo.Save(ctx, identity)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}

	// 本设备同时进入设备注册表，对其余设备与对自己走同一套信任模型
	_, err = s.deviceRepo.Create(ctx, &domain.DeviceIdentity{
		VaultID:       vaultID,
		DeviceID:      saved.DeviceID,
		DisplayName:   saved.DisplayName,
		Platform:      saved.Platform,
		BoxPublicKey:  saved.BoxPublicKey,
		SignPublicKey: saved.SignPublicKey,
		TrustState:    domain.TrustStateTrusted,
		PairedAt:      time.Now(),
	})
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}

	s.logger.Info("local identity provisioned",
		zap.String(logger.FieldVault, vaultID),
		zap.String(logger.FieldDevice, saved.DeviceID),
		zap.String("displayName", saved.DisplayName))
	return identityToDTO(saved), nil
}

// identityToDTO 将本地身份转换为响应对象，只外发公钥的 base64
func identityToDTO(id *domain.LocalIdentity) *dto.IdentityDTO {
	d := convert.StructAssign(id, &dto.IdentityDTO{}).(*dto.IdentityDTO)
	d.BoxPublicKey = base64.StdEncoding.EncodeToString(id.BoxPublicKey)
	d.SignPublicKey = base64.StdEncoding.EncodeToString(id.SignPublicKey)
	return d
}

// Identity 获取本设备身份
func (s *deviceService) Identity(ctx context.Context, vaultID string) (*domain.LocalIdentity, error) {
	identity, err := s.identityRepo.Get(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if identity == nil {
		return nil, code.ErrorDeviceNotFound.WithDetails("local identity not provisioned")
	}
	return identity, nil
}

// Pair 配对新设备
// 新设备必须用其签名私钥签署配对令牌，证明公钥归其所有
func (s *deviceService) Pair(ctx context.Context, params *dto.DevicePairRequest) (*dto.DeviceDTO, error) {
	if s.config.PairToken == "" || params.PairToken != s.config.PairToken {
		return nil, code.ErrorPairTokenInvalid
	}

	boxPub, err := base64.StdEncoding.DecodeString(params.BoxPublicKey)
	if err != nil || len(boxPub) != 32 {
		return nil, code.ErrorInvalidParams.WithDetails("malformed box public key")
	}
	signPub, err := base64.StdEncoding.DecodeString(params.SignPublicKey)
	if err != nil {
		return nil, code.ErrorInvalidParams.WithDetails("malformed sign public key")
	}
	sig, err := base64.StdEncoding.DecodeString(params.PairSignature)
	if err != nil {
		return nil, code.ErrorInvalidParams.WithDetails("malformed pair signature")
	}

	if !cryptobox.Verify(signPub, []byte(params.PairToken), sig) {
		s.logger.Warn("pair signature verification failed",
			zap.String(logger.FieldVault, params.VaultID),
			zap.String(logger.FieldDevice, params.DeviceID))
		return nil, code.ErrorPairTokenInvalid
	}

	// 设备 ID 必须与签名公钥指纹一致
	if cryptobox.Fingerprint(signPub) != params.DeviceID {
		return nil, code.ErrorPairTokenInvalid.WithDetails("device id does not match key fingerprint")
	}

	existing, err := s.deviceRepo.GetByDeviceID(ctx, params.VaultID, params.DeviceID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if existing != nil {
		// 吊销过的身份不允许借配对复活
		if existing.IsRevoked() {
			return nil, code.ErrorDeviceRevoked
		}
		if err := s.deviceRepo.UpdateTrustState(ctx, params.VaultID, params.DeviceID, domain.TrustStateTrusted); err != nil {
			return nil, code.ErrorDBQuery.WithDetails(err.Error())
		}
		existing.TrustState = domain.TrustStateTrusted
		return deviceToDTO(existing), nil
	}

	created, err := s.deviceRepo.Create(ctx, &domain.DeviceIdentity{
		VaultID:       params.VaultID,
		DeviceID:      params.DeviceID,
		DisplayName:   params.DisplayName,
		Platform:      params.Platform,
		BoxPublicKey:  boxPub,
		SignPublicKey: signPub,
		TrustState:    domain.TrustStateTrusted,
		PairedAt:      time.Now(),
	})
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}

	s.logger.Info("device paired",
		zap.String(logger.FieldVault, params.VaultID),
		zap.String(logger.FieldDevice, params.DeviceID),
		zap.String("displayName", params.DisplayName))
	return deviceToDTO(created), nil
}

// Revoke 吊销设备
func (s *deviceService) Revoke(ctx context.Context, vaultID, deviceID string) error {
	device, err := s.deviceRepo.GetByDeviceID(ctx, vaultID, deviceID)
	if err != nil {
		return code.ErrorDBQuery.WithDetails(err.Error())
	}
	if device == nil {
		return code.ErrorDeviceNotFound
	}
	if err := s.deviceRepo.UpdateTrustState(ctx, vaultID, deviceID, domain.TrustStateRevoked); err != nil {
		return code.ErrorDBQuery.WithDetails(err.Error())
	}
	s.logger.Info("device revoked",
		zap.String(logger.FieldVault, vaultID),
		zap.String(logger.FieldDevice, deviceID))
	return nil
}

// RotateKey 接受设备的加密密钥轮换断言
// 断言由设备稳定的签名私钥签署，防止被吊销的设备替换他人的密钥
func (s *deviceService) RotateKey(ctx context.Context, params *dto.DeviceRotateKeyRequest) error {
	device, err := s.deviceRepo.GetByDeviceID(ctx, params.VaultID, params.DeviceID)
	if err != nil {
		return code.ErrorDBQuery.WithDetails(err.Error())
	}
	if device == nil {
		return code.ErrorDeviceNotFound
	}
	if device.IsRevoked() {
		return code.ErrorDeviceRevoked
	}
	if device.IsQuarantined() {
		return code.ErrorDeviceQuarantined
	}

	newBoxPub, err := base64.StdEncoding.DecodeString(params.NewBoxPublic)
	if err != nil || len(newBoxPub) != 32 {
		return code.ErrorInvalidParams.WithDetails("malformed box public key")
	}
	sig, err := base64.StdEncoding.DecodeString(params.Signature)
	if err != nil {
		return code.ErrorInvalidParams.WithDetails("malformed signature")
	}

	var boxPub [32]byte
	copy(boxPub[:], newBoxPub)
	if !cryptobox.VerifyRotation(device.SignPublicKey, params.DeviceID, boxPub, params.RotatedAt, sig) {
		s.logger.Warn("key rotation assertion rejected",
			zap.String(logger.FieldVault, params.VaultID),
			zap.String(logger.FieldDevice, params.DeviceID))
		return code.ErrorRotationRejected
	}

	if err := s.deviceRepo.UpdateBoxPublicKey(ctx, params.VaultID, params.DeviceID, newBoxPub); err != nil {
		return code.ErrorDBQuery.WithDetails(err.Error())
	}
	s.logger.Info("device box key rotated",
		zap.String(logger.FieldVault, params.VaultID),
		zap.String(logger.FieldDevice, params.DeviceID))
	return nil
}

// List 获取金库的全部已知设备
func (s *deviceService) List(ctx context.Context, vaultID string) ([]*dto.DeviceDTO, error) {
	devices, err := s.deviceRepo.List(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	var results []*dto.DeviceDTO
	for _, d := range devices {
		results = append(results, deviceToDTO(d))
	}
	return results, nil
}

// TrustedPeers 获取可参与同步的对端设备，不含本设备
func (s *deviceService) TrustedPeers(ctx context.Context, vaultID string) ([]*domain.DeviceIdentity, error) {
	identity, err := s.identityRepo.Get(ctx, vaultID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	devices, err := s.deviceRepo.ListByTrustState(ctx, vaultID, domain.TrustStateTrusted)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	var peers []*domain.DeviceIdentity
	for _, d := range devices {
		if identity != nil && d.DeviceID == identity.DeviceID {
			continue
		}
		peers = append(peers, d)
	}
	return peers, nil
}

// Get 获取单个设备
func (s *deviceService) Get(ctx context.Context, vaultID, deviceID string) (*domain.DeviceIdentity, error) {
	device, err := s.deviceRepo.GetByDeviceID(ctx, vaultID, deviceID)
	if err != nil {
		return nil, code.ErrorDBQuery.WithDetails(err.Error())
	}
	if device == nil {
		return nil, code.ErrorDeviceNotFound
	}
	return device, nil
}

// 确保 deviceService 实现了 DeviceService 接口
var _ DeviceService = (*deviceService)(nil)
